package reconcile

import (
	"testing"

	"metaserver/internal/models"
)

func TestRewriteRefsRemapsTypingReference(t *testing.T) {
	mapping := IDMapping{"t1": "canonical-type"}
	ann := models.Object{
		"media": "m1",
		"meta":  map[string]any{"id-ref": "t1"},
	}
	RewriteRefs(ann, models.KindAnnotation, mapping)
	meta := ann["meta"].(map[string]any)
	if meta["id-ref"] != "canonical-type" {
		t.Fatalf("typing reference not remapped: %v", meta["id-ref"])
	}
	if ann["media"] != "m1" {
		t.Fatalf("unmapped media reference must stay untouched: %v", ann["media"])
	}
}

func TestRewriteRefsRemapsMediaOnlyForAnnotations(t *testing.T) {
	mapping := IDMapping{"m1": "canonical-media"}

	ann := models.Object{"media": "m1"}
	RewriteRefs(ann, models.KindAnnotation, mapping)
	if ann["media"] != "canonical-media" {
		t.Fatalf("annotation media reference not remapped: %v", ann["media"])
	}

	pkg := models.Object{"media": "m1"}
	RewriteRefs(pkg, models.KindPackage, mapping)
	if pkg["media"] != "m1" {
		t.Fatalf("non-annotation media field must not be remapped: %v", pkg["media"])
	}
}

func TestRewriteRefsEmptyMappingIsNoop(t *testing.T) {
	ann := models.Object{"media": "m1", "meta": map[string]any{"id-ref": "t1"}}
	RewriteRefs(ann, models.KindAnnotation, IDMapping{})
	meta := ann["meta"].(map[string]any)
	if ann["media"] != "m1" || meta["id-ref"] != "t1" {
		t.Fatalf("empty mapping must change nothing: %v", ann)
	}
}
