package reconcile

import (
	"testing"

	"metaserver/internal/models"
)

func TestAssignIDGeneratesCanonicalIdentifier(t *testing.T) {
	obj := models.Object{"dc:title": "untitled"}
	AssignID(obj, nil)
	if len(obj.ID()) != canonicalIDLength {
		t.Fatalf("expected canonical identifier, got %q", obj.ID())
	}
	if _, ok := obj[OldIDField]; ok {
		t.Fatalf("no old identifier should be recorded for a fresh object")
	}
}

func TestAssignIDKeepsCanonicalIdentifier(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000"
	obj := models.Object{"id": id}
	AssignID(obj, IDMapping{})
	if obj.ID() != id {
		t.Fatalf("canonical identifier was replaced: %q", obj.ID())
	}
	if _, ok := obj[OldIDField]; ok {
		t.Fatalf("canonical identifiers must not be moved aside")
	}
}

func TestAssignIDRemapsLocalIdentifier(t *testing.T) {
	mapping := IDMapping{}
	obj := models.Object{"id": "a42"}
	AssignID(obj, mapping)

	if len(obj.ID()) != canonicalIDLength {
		t.Fatalf("expected fresh canonical identifier, got %q", obj.ID())
	}
	if got := obj[OldIDField]; got != "a42" {
		t.Fatalf("old identifier not preserved: %v", got)
	}
	resolved, ok := mapping.Resolve("a42")
	if !ok || resolved != obj.ID() {
		t.Fatalf("mapping not recorded: %q %v", resolved, ok)
	}
}

func TestIDMappingFirstRecordWins(t *testing.T) {
	mapping := IDMapping{}
	mapping.Record("a1", "first")
	mapping.Record("a1", "second")
	if resolved, _ := mapping.Resolve("a1"); resolved != "first" {
		t.Fatalf("expected first recording to win, got %q", resolved)
	}
}
