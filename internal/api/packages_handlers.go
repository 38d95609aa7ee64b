package api

import (
	"errors"
	"net/http"
	"strings"

	"metaserver/internal/models"
	"metaserver/internal/observability/logging"
	"metaserver/internal/reconcile"
)

// Packages routes /api/package/: the bare prefix lists or imports, a
// trailing identifier reassembles a full bundle.
func (h *Handler) Packages(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if id == "" {
			switch r.Method {
			case http.MethodGet:
				h.listElements(w, r, models.KindPackage)
			case http.MethodPost:
				h.importBundle(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
			return
		}
		if strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, errors.New("not found"))
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.assemblePackage(w, r, id)
	}
}

func (h *Handler) importBundle(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, http.MethodPost, models.CollectionPackages, "elements") {
		return
	}
	var bundle reconcile.Bundle
	if err := decodeObject(r, &bundle); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.Importer.ImportBundle(r.Context(), bundle)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ctx := logging.ContextWithPackageID(r.Context(), id)
	logging.WithContext(ctx, h.logger()).Info("bundle import accepted")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) assemblePackage(w http.ResponseWriter, r *http.Request, id string) {
	if !h.authorize(w, r, http.MethodGet, models.CollectionPackages, "elements") {
		return
	}
	bundle, err := h.Assembler.BuildPackage(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
