package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

func newTestStore(t *testing.T) storage.DocumentStore {
	t.Helper()
	store, err := storage.NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func testBundle() Bundle {
	return Bundle{
		Medias: []models.Object{
			{"id": "m1", "url": "http://example.com/video.mp4"},
		},
		AnnotationTypes: []models.Object{
			{"id": "t1", "dc:title": "Scene"},
		},
		Annotations: []models.Object{
			{
				"id":    "a1",
				"media": "m1",
				"begin": float64(0),
				"end":   float64(1000),
				"meta":  map[string]any{"id-ref": "t1"},
			},
		},
		Meta: models.Object{
			"dc:title":   "Test package",
			"main_media": "package1",
		},
	}
}

func TestImportBundleReconcilesIdentities(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)
	ctx := context.Background()

	pkgID, err := imp.ImportBundle(ctx, testBundle())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(pkgID) != canonicalIDLength {
		t.Fatalf("package identifier not canonical: %q", pkgID)
	}

	media, err := store.FindOne(ctx, models.CollectionMedias, nil)
	if err != nil {
		t.Fatalf("find media: %v", err)
	}
	if len(media.ID()) != canonicalIDLength || media[OldIDField] != "m1" {
		t.Fatalf("media identity not reconciled: id=%q oldid=%v", media.ID(), media[OldIDField])
	}

	annType, err := store.FindOne(ctx, models.CollectionAnnotationTypes, nil)
	if err != nil {
		t.Fatalf("find annotation type: %v", err)
	}

	ann, err := store.FindOne(ctx, models.CollectionAnnotations, nil)
	if err != nil {
		t.Fatalf("find annotation: %v", err)
	}
	if ann["media"] != media.ID() {
		t.Fatalf("annotation media reference not repaired: %v", ann["media"])
	}
	meta := ann.Meta(models.KindAnnotation)
	if meta["id-ref"] != annType.ID() {
		t.Fatalf("annotation typing reference not repaired: %v", meta["id-ref"])
	}

	pkg, err := store.FindOne(ctx, models.CollectionPackages, storage.Query{"id": pkgID})
	if err != nil {
		t.Fatalf("find package: %v", err)
	}
	main, _ := pkg["main_media"].(map[string]any)
	if main == nil || main["id-ref"] != media.ID() {
		t.Fatalf("main media placeholder not resolved: %v", pkg["main_media"])
	}
}

func TestImportBundleRequiresPackageMeta(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)

	bundle := testBundle()
	bundle.Meta = nil
	if _, err := imp.ImportBundle(context.Background(), bundle); !errors.Is(err, ErrMalformedBundle) {
		t.Fatalf("expected ErrMalformedBundle, got %v", err)
	}
}

func TestImportBundlePlaceholderWithoutMedias(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)

	bundle := testBundle()
	bundle.Medias = nil
	bundle.Annotations = nil
	if _, err := imp.ImportBundle(context.Background(), bundle); !errors.Is(err, ErrMalformedBundle) {
		t.Fatalf("expected ErrMalformedBundle, got %v", err)
	}
}

func TestImportBundleDeduplicatesTypesByTitle(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)
	ctx := context.Background()

	existing := models.Object{"dc:title": "Scene"}
	AssignID(existing, nil)
	if err := store.Save(ctx, models.CollectionAnnotationTypes, existing); err != nil {
		t.Fatalf("seed type: %v", err)
	}

	if _, err := imp.ImportBundle(ctx, testBundle()); err != nil {
		t.Fatalf("import: %v", err)
	}

	types, err := store.Find(ctx, models.CollectionAnnotationTypes, nil)
	if err != nil {
		t.Fatalf("list types: %v", err)
	}
	if len(types) != 1 {
		t.Fatalf("expected the imported type to collapse onto the stored one, got %d types", len(types))
	}

	ann, err := store.FindOne(ctx, models.CollectionAnnotations, nil)
	if err != nil {
		t.Fatalf("find annotation: %v", err)
	}
	if meta := ann.Meta(models.KindAnnotation); meta["id-ref"] != existing.ID() {
		t.Fatalf("annotation must reference the surviving type: %v", meta["id-ref"])
	}
}

func TestImportBundleIsIdempotentForMediasAndPackage(t *testing.T) {
	store := newTestStore(t)
	imp := NewImporter(store, nil, nil, 0)
	ctx := context.Background()

	bundle := Bundle{
		Medias: []models.Object{
			{"id": "123e4567-e89b-12d3-a456-426614174000", "url": "http://example.com/a.mp4"},
		},
		Meta: models.Object{
			"id":         "223e4567-e89b-12d3-a456-426614174000",
			"dc:title":   "Stable package",
			"main_media": map[string]any{"id-ref": "123e4567-e89b-12d3-a456-426614174000"},
		},
	}
	if _, err := imp.ImportBundle(ctx, bundle); err != nil {
		t.Fatalf("first import: %v", err)
	}

	again := Bundle{
		Medias: []models.Object{
			{"id": "123e4567-e89b-12d3-a456-426614174000", "url": "http://example.com/a.mp4"},
		},
		Meta: models.Object{
			"id":         "223e4567-e89b-12d3-a456-426614174000",
			"dc:title":   "Stable package",
			"main_media": map[string]any{"id-ref": "123e4567-e89b-12d3-a456-426614174000"},
		},
	}
	if _, err := imp.ImportBundle(ctx, again); err != nil {
		t.Fatalf("second import: %v", err)
	}

	medias, err := store.Find(ctx, models.CollectionMedias, nil)
	if err != nil {
		t.Fatalf("list medias: %v", err)
	}
	packages, err := store.Find(ctx, models.CollectionPackages, nil)
	if err != nil {
		t.Fatalf("list packages: %v", err)
	}
	if len(medias) != 1 || len(packages) != 1 {
		t.Fatalf("re-import must not duplicate: %d medias, %d packages", len(medias), len(packages))
	}
}
