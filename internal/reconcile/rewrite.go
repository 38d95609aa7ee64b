package reconcile

import (
	"metaserver/internal/models"
)

// RewriteRefs repairs cross-references on an object whose targets were
// remapped earlier in the same request: the typing reference at
// meta["id-ref"] and, for annotations, the owning media reference.
// References that resolve to nothing in the mapping are left untouched.
func RewriteRefs(obj models.Object, kind models.Kind, mapping IDMapping) models.Object {
	if obj == nil || len(mapping) == 0 {
		return obj
	}
	meta := obj.Meta(kind)
	if ref, ok := meta["id-ref"].(string); ok {
		if canonical, remapped := mapping.Resolve(ref); remapped {
			meta["id-ref"] = canonical
		}
	}
	if kind == models.KindAnnotation {
		if mediaRef, ok := obj["media"].(string); ok {
			if canonical, remapped := mapping.Resolve(mediaRef); remapped {
				obj["media"] = canonical
			}
		}
	}
	return obj
}
