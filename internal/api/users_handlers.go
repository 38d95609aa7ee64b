package api

import (
	"errors"
	"net/http"
	"strings"

	"metaserver/internal/models"
	"metaserver/internal/reconcile"
	"metaserver/internal/storage"
)

// contributorSources lists where each collection keeps its contributor
// field, following the kind's meta layout.
var contributorSources = []struct {
	collection string
	field      string
}{
	{models.CollectionAnnotations, "meta.dc:contributor"},
	{models.CollectionMedias, "meta.dc:contributor"},
	{models.CollectionAnnotationTypes, "dc:contributor"},
	{models.CollectionPackages, "dc:contributor"},
}

// Users routes /api/user/: the bare prefix aggregates contribution counts,
// /api/user/{uid}/annotation lists one creator's annotations.
func (h *Handler) Users(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if rest == "" {
			h.contributorCounts(w, r)
			return
		}
		uid, remainder, _ := strings.Cut(rest, "/")
		if remainder == "annotation" && uid != "" {
			h.annotationsByCreator(w, r, uid)
			return
		}
		writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

// contributorCounts reports, per contributor, how many objects they touched
// in each collection.
func (h *Handler) contributorCounts(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, http.MethodGet, "users", "elements") {
		return
	}
	counts := make(map[string]map[string]int)
	for _, source := range contributorSources {
		contributors, err := h.Store.Distinct(r.Context(), source.collection, source.field)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		for _, contributor := range contributors {
			objects, err := h.Store.Find(r.Context(), source.collection, storage.Query{source.field: contributor})
			if err != nil {
				h.writeStoreError(w, r, err)
				return
			}
			bucket := counts[contributor]
			if bucket == nil {
				bucket = make(map[string]int)
				counts[contributor] = bucket
			}
			bucket[source.collection] = len(objects)
		}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) annotationsByCreator(w http.ResponseWriter, r *http.Request, uid string) {
	if !h.authorize(w, r, http.MethodGet, models.CollectionAnnotations, "elements") {
		return
	}
	annotations, err := h.Store.Find(r.Context(), models.CollectionAnnotations, storage.Query{"meta.dc:creator": uid})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	restored := make([]models.Object, 0, len(annotations))
	for _, annotation := range annotations {
		restored = append(restored, reconcile.Restore(annotation, models.KindAnnotation).Public())
	}
	writeJSON(w, http.StatusOK, restored)
}
