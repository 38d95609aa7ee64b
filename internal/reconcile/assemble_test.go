package reconcile

import (
	"context"
	"errors"
	"testing"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

func TestBuildPackageAssemblesBundle(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)
	ctx := context.Background()

	pkgID, err := imp.ImportBundle(ctx, testBundle())
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	bundle, err := NewAssembler(store).BuildPackage(ctx, pkgID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	meta, ok := bundle["meta"].(models.Object)
	if !ok || meta.ID() != pkgID {
		t.Fatalf("bundle meta missing or wrong package: %v", bundle["meta"])
	}
	if _, leaked := meta[models.StoreKeyField]; leaked {
		t.Fatalf("internal store key leaked into the bundle")
	}

	medias, _ := bundle["medias"].([]any)
	if len(medias) != 1 {
		t.Fatalf("expected the main media in the bundle, got %d", len(medias))
	}
	annotations, _ := bundle["annotations"].([]any)
	if len(annotations) != 1 {
		t.Fatalf("expected the media's annotations in the bundle, got %d", len(annotations))
	}
	types, _ := bundle["annotation-types"].([]any)
	if len(types) != 1 {
		t.Fatalf("expected the full type vocabulary in the bundle, got %d", len(types))
	}
}

func TestBuildPackageUnknownID(t *testing.T) {
	store := newTestStore(t)
	_, err := NewAssembler(store).BuildPackage(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildPackageRestoresProvenanceFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pkg := models.Object{
		"dc:title":            "Archive",
		"dc:created.contents": map[string]any{"mimetype": "text/plain"},
	}
	Sanitize(pkg, models.KindPackage)
	AssignID(pkg, nil)
	if err := store.Save(ctx, models.CollectionPackages, pkg); err != nil {
		t.Fatalf("seed package: %v", err)
	}

	bundle, err := NewAssembler(store).BuildPackage(ctx, pkg.ID())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	meta := bundle["meta"].(models.Object)
	if _, ok := meta["dc:created.contents"]; !ok {
		t.Fatalf("restorable field not recovered: %v", meta)
	}
	if _, ok := meta["dc:created_contents"]; ok {
		t.Fatalf("stored form leaked into the bundle: %v", meta)
	}
}
