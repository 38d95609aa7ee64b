package api

import (
	"net/http"

	"metaserver/internal/models"
)

// Trace accepts client activity events. Events are validated, then stored
// verbatim; there is no server-side enrichment beyond the store key.
func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.authorize(w, r, http.MethodPost, models.CollectionTrace, "elements") {
		return
	}
	var event models.TraceEvent
	if err := decodeJSON(r, &event); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.Save(r.Context(), models.CollectionTrace, event.ToObject()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}
