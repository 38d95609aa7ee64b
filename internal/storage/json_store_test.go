package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"metaserver/internal/models"
)

func newStore(t *testing.T, path string) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestJSONStoreSaveAssignsStoreKey(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	obj := models.Object{"id": "m1", "url": "http://example.com"}
	if err := store.Save(ctx, models.CollectionMedias, obj); err != nil {
		t.Fatalf("save: %v", err)
	}
	if obj.StoreKey() == "" {
		t.Fatalf("store key not assigned on first save")
	}

	found, err := store.FindOne(ctx, models.CollectionMedias, Query{"id": "m1"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.StoreKey() != obj.StoreKey() {
		t.Fatalf("store key mismatch: %q vs %q", found.StoreKey(), obj.StoreKey())
	}
}

func TestJSONStoreUpsertsByStoreKey(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	obj := models.Object{"id": "m1", "url": "http://example.com/a"}
	if err := store.Save(ctx, models.CollectionMedias, obj); err != nil {
		t.Fatalf("save: %v", err)
	}
	obj["url"] = "http://example.com/b"
	if err := store.Save(ctx, models.CollectionMedias, obj); err != nil {
		t.Fatalf("second save: %v", err)
	}

	all, err := store.Find(ctx, models.CollectionMedias, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert duplicated the object: %d records", len(all))
	}
	if all[0]["url"] != "http://example.com/b" {
		t.Fatalf("update not applied: %v", all[0]["url"])
	}
}

func TestJSONStoreFindReturnsClones(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	if err := store.Save(ctx, models.CollectionMedias, models.Object{"id": "m1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, err := store.FindOne(ctx, models.CollectionMedias, Query{"id": "m1"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	first["mutated"] = true

	second, err := store.FindOne(ctx, models.CollectionMedias, Query{"id": "m1"})
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if _, ok := second["mutated"]; ok {
		t.Fatalf("stored state aliased by a returned object")
	}
}

func TestJSONStoreQueryMatchesNestedPaths(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	ann := models.Object{
		"id":    "a1",
		"media": "m1",
		"meta":  map[string]any{"dc:creator": "alice"},
	}
	if err := store.Save(ctx, models.CollectionAnnotations, ann); err != nil {
		t.Fatalf("save: %v", err)
	}

	found, err := store.Find(ctx, models.CollectionAnnotations, Query{"meta.dc:creator": "alice"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("nested path query missed the object")
	}

	none, err := store.Find(ctx, models.CollectionAnnotations, Query{"meta.dc:creator": "bob"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("query matched a non-matching object")
	}
}

func TestJSONStoreDistinct(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	for _, creator := range []string{"bob", "alice", "alice"} {
		ann := models.Object{"meta": map[string]any{"dc:contributor": creator}}
		if err := store.Save(ctx, models.CollectionAnnotations, ann); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := store.Save(ctx, models.CollectionAnnotations, models.Object{"id": "no-meta"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	values, err := store.Distinct(ctx, models.CollectionAnnotations, "meta.dc:contributor")
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(values) != 2 || values[0] != "alice" || values[1] != "bob" {
		t.Fatalf("unexpected distinct values: %v", values)
	}
}

func TestJSONStoreRemove(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := store.Save(ctx, models.CollectionMedias, models.Object{"id": id}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := store.Remove(ctx, models.CollectionMedias, Query{"id": "m1"}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := store.FindOne(ctx, models.CollectionMedias, Query{"id": "m1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed object still found: %v", err)
	}
	if _, err := store.FindOne(ctx, models.CollectionMedias, Query{"id": "m2"}); err != nil {
		t.Fatalf("unrelated object removed: %v", err)
	}
}

func TestJSONStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	store := newStore(t, path)
	if err := store.Save(ctx, models.CollectionPackages, models.Object{"id": "p1", "dc:title": "Archive"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := newStore(t, path)
	found, err := reopened.FindOne(ctx, models.CollectionPackages, Query{"id": "p1"})
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if found["dc:title"] != "Archive" {
		t.Fatalf("persisted object corrupted: %v", found)
	}
}

func TestJSONStoreUnknownCollection(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "store.json"))
	if err := store.Save(context.Background(), "nope", models.Object{"id": "x"}); err == nil {
		t.Fatalf("expected an error for an unknown collection")
	}
}
