package reconcile

import (
	"testing"
	"time"

	"metaserver/internal/models"
)

func stubNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = orig })
}

func TestSanitizeDropsFrameOfReference(t *testing.T) {
	obj := models.Object{
		"id":                  "m1",
		frameOfReferenceField: "o=0",
	}
	Sanitize(obj, models.KindMedia)
	if _, ok := obj[frameOfReferenceField]; ok {
		t.Fatalf("frame of reference field survived sanitisation")
	}
}

func TestSanitizeStampsMissingProvenance(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	stubNow(t, at)
	want := at.Format(time.RFC3339)

	obj := models.Object{"dc:title": "Scene"}
	Sanitize(obj, models.KindAnnotationType)
	if obj["dc:created"] != want || obj["dc:modified"] != want {
		t.Fatalf("provenance not stamped: created=%v modified=%v", obj["dc:created"], obj["dc:modified"])
	}

	existing := models.Object{"dc:created": "2020-01-01T00:00:00Z"}
	Sanitize(existing, models.KindAnnotationType)
	if existing["dc:created"] != "2020-01-01T00:00:00Z" {
		t.Fatalf("existing timestamp overwritten: %v", existing["dc:created"])
	}
	if existing["dc:modified"] != want {
		t.Fatalf("missing dc:modified not stamped: %v", existing["dc:modified"])
	}
}

func TestSanitizeStampsNestedProvenance(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	stubNow(t, at)

	ann := models.Object{"media": "m1"}
	Sanitize(ann, models.KindAnnotation)
	meta, ok := ann["meta"].(map[string]any)
	if !ok {
		t.Fatalf("annotation provenance must live under the meta sub-map")
	}
	if meta["dc:created"] != at.Format(time.RFC3339) {
		t.Fatalf("nested dc:created not stamped: %v", meta["dc:created"])
	}
}

func TestSanitizeRewritesDottedNames(t *testing.T) {
	stubNow(t, time.Now())
	obj := models.Object{
		"dc:created":          "2020-01-01T00:00:00Z",
		"dc:modified":         "2020-01-01T00:00:00Z",
		"dc:created.contents": map[string]any{"mimetype": "text/plain"},
		"some.dotted.name":    "value",
	}
	Sanitize(obj, models.KindPackage)

	if _, ok := obj["dc:created.contents"]; ok {
		t.Fatalf("dotted name survived sanitisation")
	}
	if _, ok := obj["dc:created_contents"]; !ok {
		t.Fatalf("dotted name not rewritten to stored form")
	}
	if obj["some_dotted_name"] != "value" {
		t.Fatalf("general dotted name not rewritten: %v", obj["some_dotted_name"])
	}
}

func TestRestoreRecoversFixedPair(t *testing.T) {
	stubNow(t, time.Now())
	obj := models.Object{
		"dc:created.contents": "a",
		"dc:creator.contents": "b",
		"custom.field":        "c",
	}
	Sanitize(obj, models.KindPackage)
	Restore(obj, models.KindPackage)

	if obj["dc:created.contents"] != "a" || obj["dc:creator.contents"] != "b" {
		t.Fatalf("fixed pair not restored: %v", obj)
	}
	if _, ok := obj["dc:created_contents"]; ok {
		t.Fatalf("stored form left behind after restore")
	}
	if obj["custom_field"] != "c" {
		t.Fatalf("general rewrite must stay stored: %v", obj["custom_field"])
	}
}

func TestUncolonAddsAliasesRecursively(t *testing.T) {
	obj := models.Object{
		"dc:title": "Scene",
		"meta": map[string]any{
			"dc:creator": "alice",
		},
	}
	Uncolon(obj)

	if obj["dc_title"] != "Scene" || obj["dc:title"] != "Scene" {
		t.Fatalf("alias missing or original removed: %v", obj)
	}
	meta := obj["meta"].(map[string]any)
	if meta["dc_creator"] != "alice" || meta["dc:creator"] != "alice" {
		t.Fatalf("nested alias missing or original removed: %v", meta)
	}
}
