package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

func newKeyStore(t *testing.T, keys ...models.ApiKey) storage.DocumentStore {
	t.Helper()
	store, err := storage.NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	for _, key := range keys {
		if err := store.Save(ctx, models.CollectionKeys, key.ToObject()); err != nil {
			t.Fatalf("seed key: %v", err)
		}
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestCapabilityStoreReloadAndLookup(t *testing.T) {
	store := newKeyStore(t,
		models.ApiKey{Key: "reader", Capabilities: []string{"GETelements"}},
		models.ApiKey{Key: "admin", Capabilities: []string{"GETkeys", "POSTkeys"}},
	)
	caps := NewCapabilityStore(store, nil, nil)
	if err := caps.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if !caps.Lookup("reader").Has("GETelements") {
		t.Fatalf("reader grant missing after reload")
	}
	if caps.Lookup("reader").Has("GETkeys") {
		t.Fatalf("reader must not hold admin grants")
	}
	if caps.Lookup("unknown") != nil {
		t.Fatalf("unknown keys must get the empty set")
	}
}

func TestCapabilityStoreReloadPicksUpChanges(t *testing.T) {
	store := newKeyStore(t, models.ApiKey{Key: "reader", Capabilities: []string{"GETelements"}})
	caps := NewCapabilityStore(store, nil, nil)
	ctx := context.Background()
	if err := caps.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}

	extra := models.ApiKey{Key: "writer", Capabilities: []string{"POSTelements"}}
	if err := store.Save(ctx, models.CollectionKeys, extra.ToObject()); err != nil {
		t.Fatalf("save key: %v", err)
	}
	if caps.Lookup("writer").Has("POSTelements") {
		t.Fatalf("table must not change before a reload")
	}
	if err := caps.Reload(ctx); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	if !caps.Lookup("writer").Has("POSTelements") {
		t.Fatalf("new key not visible after reload")
	}
}

func TestGateAuthorizeIsDisjunctive(t *testing.T) {
	store := newKeyStore(t, models.ApiKey{Key: "k", Capabilities: []string{"DELETEannotation"}})
	caps := NewCapabilityStore(store, nil, nil)
	if err := caps.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	gate := NewGate(caps, nil)

	if err := gate.Authorize("k", "DELETE", "annotations", "annotation"); err != nil {
		t.Fatalf("any matching target must allow: %v", err)
	}
	if err := gate.Authorize("k", "DELETE", "media"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := gate.Authorize("unknown", "DELETE", "annotation"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown key must be denied, got %v", err)
	}
}

func TestGateAuthorizeListingUnfilteredRule(t *testing.T) {
	store := newKeyStore(t,
		models.ApiKey{Key: "filtered-only", Capabilities: []string{"GETelements"}},
		models.ApiKey{Key: "dumper", Capabilities: []string{"GETelements", "GETunfilteredelements"}},
		models.ApiKey{Key: "media-dumper", Capabilities: []string{"GETmedias", "GETunfilteredmedias"}},
	)
	caps := NewCapabilityStore(store, nil, nil)
	if err := caps.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	gate := NewGate(caps, nil)

	if err := gate.AuthorizeListing("filtered-only", "medias", true); err != nil {
		t.Fatalf("filtered listing must pass with a read grant: %v", err)
	}
	if err := gate.AuthorizeListing("filtered-only", "medias", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unfiltered listing needs the unfiltered grant, got %v", err)
	}
	if err := gate.AuthorizeListing("dumper", "medias", false); err != nil {
		t.Fatalf("generic unfiltered grant must pass: %v", err)
	}
	if err := gate.AuthorizeListing("media-dumper", "medias", false); err != nil {
		t.Fatalf("collection-specific grants must pass: %v", err)
	}
	if err := gate.AuthorizeListing("media-dumper", "annotations", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("collection grants must not leak across collections, got %v", err)
	}
}
