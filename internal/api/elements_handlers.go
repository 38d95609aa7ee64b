package api

import (
	"errors"
	"net/http"
	"strings"

	"metaserver/internal/models"
	"metaserver/internal/reconcile"
	"metaserver/internal/storage"
)

// querymapFor maps public filter names to stored field paths. Provenance
// filters follow the kind's meta layout; collection-specific names are added
// per kind. Filter names outside the querymap are silently ignored.
func querymapFor(kind models.Kind) map[string]string {
	var contributor, creator string
	if kind.MetaInline() {
		contributor, creator = "dc:contributor", "dc:creator"
	} else {
		contributor, creator = "meta.dc:contributor", "meta.dc:creator"
	}
	querymap := map[string]string{
		"user":    contributor,
		"creator": creator,
	}
	switch kind {
	case models.KindAnnotation:
		querymap["media"] = "media"
		querymap["type"] = "meta.id-ref"
	case models.KindMedia:
		querymap["url"] = "url"
	case models.KindPackage:
		querymap["media"] = "main_media.id-ref"
	}
	return querymap
}

// parseFilters translates repeated filter=name:value parameters into a
// storage query. The raw count is reported separately because the
// unfiltered-read rule looks at what the caller asked for, not at what
// survived the querymap.
func parseFilters(r *http.Request, kind models.Kind) (storage.Query, bool) {
	raw := r.URL.Query()["filter"]
	querymap := querymapFor(kind)
	query := storage.Query{}
	for _, filter := range raw {
		name, value, ok := strings.Cut(filter, ":")
		if !ok {
			continue
		}
		if field, known := querymap[name]; known {
			query[field] = value
		}
	}
	return query, len(raw) > 0
}

// Collection serves listing and creation for one element collection.
func (h *Handler) Collection(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.listElements(w, r, kind)
		case http.MethodPost:
			h.createElement(w, r, kind)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	}
}

// Element serves read, replace and delete for a single element addressed by
// its canonical identifier under the given route prefix.
func (h *Handler) Element(prefix string, kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, errors.New("not found"))
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getElement(w, r, kind, id)
		case http.MethodPut:
			h.replaceElement(w, r, kind, id)
		case http.MethodDelete:
			h.deleteElement(w, r, kind, id)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	}
}

func (h *Handler) listElements(w http.ResponseWriter, r *http.Request, kind models.Kind) {
	collection := kind.Collection()
	query, filtered := parseFilters(r, kind)
	if !h.authorizeListing(w, r, collection, filtered) {
		return
	}
	objects, err := h.Store.Find(r.Context(), collection, query)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	restored := make([]models.Object, 0, len(objects))
	for _, obj := range objects {
		restored = append(restored, reconcile.Restore(obj, kind).Public())
	}
	writeJSON(w, http.StatusOK, restored)
}

func (h *Handler) createElement(w http.ResponseWriter, r *http.Request, kind models.Kind) {
	collection := kind.Collection()
	if !h.authorize(w, r, http.MethodPost, collection, "elements") {
		return
	}
	var obj models.Object
	if err := decodeObject(r, &obj); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if kind == models.KindAnnotation {
		if err := h.Normalizer.NormalizeAnnotation(r.Context(), obj); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
	}
	reconcile.Sanitize(obj, kind)
	reconcile.AssignID(obj, reconcile.IDMapping{})
	if err := h.Store.Save(r.Context(), collection, obj); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reconcile.Restore(obj, kind).Public())
}

func (h *Handler) getElement(w http.ResponseWriter, r *http.Request, kind models.Kind, id string) {
	collection := kind.Collection()
	if !h.authorize(w, r, http.MethodGet, collection, "elements") {
		return
	}
	obj, err := h.Store.FindOne(r.Context(), collection, storage.Query{"id": id})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcile.Restore(obj, kind).Public())
}

func (h *Handler) replaceElement(w http.ResponseWriter, r *http.Request, kind models.Kind, id string) {
	collection := kind.Collection()
	if !h.authorize(w, r, http.MethodPut, collection, "elements") {
		return
	}
	existing, err := h.Store.FindOne(r.Context(), collection, storage.Query{"id": id})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	var obj models.Object
	if err := decodeObject(r, &obj); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if obj.ID() != existing.ID() {
		writeError(w, http.StatusConflict, errors.New("body id does not match element id"))
		return
	}
	// Replace the stored object under the same store key so the upsert hits
	// the existing record.
	obj[models.StoreKeyField] = existing.StoreKey()
	if kind == models.KindAnnotation {
		if err := h.Normalizer.NormalizeAnnotation(r.Context(), obj); err != nil {
			h.writeStoreError(w, r, err)
			return
		}
	}
	reconcile.Sanitize(obj, kind)
	if err := h.Store.Save(r.Context(), collection, obj); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcile.Restore(obj, kind).Public())
}

func (h *Handler) deleteElement(w http.ResponseWriter, r *http.Request, kind models.Kind, id string) {
	collection := kind.Collection()
	if !h.authorize(w, r, http.MethodDelete, collection, "elements") {
		return
	}
	if _, err := h.Store.FindOne(r.Context(), collection, storage.Query{"id": id}); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.Store.Remove(r.Context(), collection, storage.Query{"id": id}); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
