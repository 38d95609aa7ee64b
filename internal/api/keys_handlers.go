package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

// Keys routes /api/key/: administration of the capability grants themselves.
// Every mutation rebuilds the in-memory capability table and, when a
// notifier is configured, fans the reload out to the other instances.
func (h *Handler) Keys(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if name == "" {
			switch r.Method {
			case http.MethodGet:
				h.listKeys(w, r)
			case http.MethodPost:
				h.createKey(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
			return
		}
		if strings.Contains(name, "/") {
			writeError(w, http.StatusNotFound, errors.New("not found"))
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getKey(w, r, name)
		case http.MethodPut:
			h.updateKey(w, r, name)
		case http.MethodDelete:
			h.deleteKey(w, r, name)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	}
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	// Key administration never falls back to the generic element grants.
	// Listing is always an unrestricted dump, so the unfiltered rule applies
	// on top of the read grant.
	if !h.authorize(w, r, http.MethodGet, models.CollectionKeys) {
		return
	}
	if !h.authorize(w, r, "GETunfiltered", models.CollectionKeys) {
		return
	}
	records, err := h.Store.Find(r.Context(), models.CollectionKeys, nil)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	keys := make([]models.ApiKey, 0, len(records))
	for _, record := range records {
		keys = append(keys, models.ApiKeyFromObject(record))
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request, name string) {
	if !h.authorize(w, r, http.MethodGet, models.CollectionKeys) {
		return
	}
	record, err := h.Store.FindOne(r.Context(), models.CollectionKeys, storage.Query{"key": name})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ApiKeyFromObject(record))
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, http.MethodPost, models.CollectionKeys) {
		return
	}
	var key models.ApiKey
	if err := decodeJSON(r, &key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, err := h.Store.FindOne(r.Context(), models.CollectionKeys, storage.Query{"key": key.Key})
	switch {
	case err == nil:
		writeError(w, http.StatusConflict, errors.New("key already exists"))
		return
	case !errors.Is(err, storage.ErrNotFound):
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.Store.Save(r.Context(), models.CollectionKeys, key.ToObject()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.reloadCapabilities(r.Context())
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request, name string) {
	if !h.authorize(w, r, http.MethodPut, models.CollectionKeys) {
		return
	}
	existing, err := h.Store.FindOne(r.Context(), models.CollectionKeys, storage.Query{"key": name})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	var key models.ApiKey
	if err := decodeJSON(r, &key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if key.Key != name {
		writeError(w, http.StatusConflict, errors.New("body key does not match path key"))
		return
	}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record := key.ToObject()
	record[models.StoreKeyField] = existing.StoreKey()
	if err := h.Store.Save(r.Context(), models.CollectionKeys, record); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.reloadCapabilities(r.Context())
	writeJSON(w, http.StatusOK, key)
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request, name string) {
	if !h.authorize(w, r, http.MethodDelete, models.CollectionKeys) {
		return
	}
	if _, err := h.Store.FindOne(r.Context(), models.CollectionKeys, storage.Query{"key": name}); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.Store.Remove(r.Context(), models.CollectionKeys, storage.Query{"key": name}); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.reloadCapabilities(r.Context())
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) reloadCapabilities(ctx context.Context) {
	if err := h.Capabilities.Reload(ctx); err != nil {
		h.logger().ErrorContext(ctx, "capability reload failed", "error", err)
	}
	if h.Notifier != nil {
		if err := h.Notifier.Publish(ctx); err != nil {
			h.logger().ErrorContext(ctx, "capability reload broadcast failed", "error", err)
		}
	}
}
