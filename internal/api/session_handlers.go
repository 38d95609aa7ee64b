package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"metaserver/internal/models"
	"metaserver/internal/reconcile"
	"metaserver/internal/storage"
)

// Login identifies an anonymous visitor. The client may supply an identity
// object either as the request body (POST) or as the "default_user" form
// parameter; its fields are merged into the visitor's userinfo record. A
// valid session cookie keeps the same record across logins; otherwise a new
// record and session are created. Every login writes a Login trace event.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	identity, err := loginIdentity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.currentUserInfo(r)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.writeStoreError(w, r, err)
		return
	}

	fresh := record == nil
	if fresh {
		record = models.Object{}
	}
	for field, value := range identity {
		if field == "id" || field == models.StoreKeyField {
			continue
		}
		record[field] = value
	}
	reconcile.Sanitize(record, models.KindUserInfo)
	reconcile.AssignID(record, nil)
	if err := h.Store.Save(r.Context(), models.CollectionUserInfo, record); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if fresh {
		token, expires, err := h.sessionManager().Create(record.ID())
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		h.setSessionCookie(w, r, token, expires)
	}

	event := models.NewLoginEvent(record.ID(), time.Now())
	if err := h.Store.Save(r.Context(), models.CollectionTrace, event.ToObject()); err != nil {
		h.logger().ErrorContext(r.Context(), "login trace write failed", "user", record.ID(), "error", err)
	}
	h.metrics().SessionLogin()
	writeJSON(w, http.StatusOK, reconcile.Restore(record, models.KindUserInfo).Public())
}

// Logout revokes the visitor's session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	if token := sessionTokenFromRequest(r); token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
	}
	h.clearSessionCookie(w, r)
	writeJSON(w, http.StatusNoContent, nil)
}

// currentUserInfo resolves the visitor's userinfo record from the session
// cookie, or (nil, ErrNotFound) when there is no usable session.
func (h *Handler) currentUserInfo(r *http.Request) (models.Object, error) {
	token := sessionTokenFromRequest(r)
	if token == "" {
		return nil, storage.ErrNotFound
	}
	userID, _, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return h.Store.FindOne(r.Context(), models.CollectionUserInfo, storage.Query{"id": userID})
}

func loginIdentity(r *http.Request) (models.Object, error) {
	if r.Method == http.MethodPost && r.ContentLength != 0 &&
		strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var identity models.Object
		if err := decodeObject(r, &identity); err != nil {
			return nil, err
		}
		return identity, nil
	}
	if raw := r.FormValue("default_user"); raw != "" {
		var identity models.Object
		if err := json.Unmarshal([]byte(raw), &identity); err != nil {
			return nil, err
		}
		return identity, nil
	}
	return models.Object{}, nil
}
