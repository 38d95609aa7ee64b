package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

func TestResolveStorageDriver(t *testing.T) {
	cases := []struct {
		name      string
		flagValue string
		envValue  string
		dsn       string
		want      string
	}{
		{name: "flag wins", flagValue: "json", envValue: "postgres", dsn: "postgres://x", want: "json"},
		{name: "env fallback", envValue: "Postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://x", want: "postgres"},
		{name: "default json", want: "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver, err := resolveStorageDriver(tc.flagValue, tc.envValue, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver returned error: %v", err)
			}
			if driver != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, driver)
			}
		})
	}
}

func TestResolveListenAddrDefaults(t *testing.T) {
	if addr := resolveListenAddr("", "production", ""); addr != ":80" {
		t.Fatalf("expected production default :80, got %q", addr)
	}
	if addr := resolveListenAddr("", "development", ""); addr != ":8080" {
		t.Fatalf("expected development default :8080, got %q", addr)
	}
	if addr := resolveListenAddr(":9999", "production", ":7777"); addr != ":9999" {
		t.Fatalf("expected explicit addr to win, got %q", addr)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example ")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatalf("blank input must yield nil")
	}
}

func TestSeedDefaultKey(t *testing.T) {
	store, err := storage.NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := seedDefaultKey(ctx, store, logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	record, err := store.FindOne(ctx, models.CollectionKeys, storage.Query{"key": "default"})
	if err != nil {
		t.Fatalf("default key not stored: %v", err)
	}
	seeded := models.ApiKeyFromObject(record)
	if len(seeded.Capabilities) == 0 {
		t.Fatalf("default key seeded without capabilities")
	}

	if err := seedDefaultKey(ctx, store, logger); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	keys, err := store.Find(ctx, models.CollectionKeys, nil)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("seeding must be idempotent, got %d keys", len(keys))
	}
}
