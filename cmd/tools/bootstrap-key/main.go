// Command bootstrap-key seeds or updates an API key in the datastore.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

// adminCapabilities grants every operation the server gates, including key
// administration and unfiltered listings.
var adminCapabilities = []string{
	"GETelements",
	"POSTelements",
	"PUTelements",
	"DELETEelements",
	"GETunfilteredelements",
	"GETkeys",
	"POSTkeys",
	"PUTkeys",
	"DELETEkeys",
	"GETunfilteredkeys",
	"POSTtrace",
}

func main() {
	var (
		jsonPath     string
		postgresDSN  string
		keyName      string
		capabilities string
		admin        bool
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&keyName, "key", "", "API key to create or update")
	flag.StringVar(&capabilities, "capabilities", "", "Comma separated capability tokens to grant")
	flag.BoolVar(&admin, "admin", false, "Grant the full administrative capability set")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(keyName) == "" {
		fatalf("--key is required")
	}
	grants := splitCapabilities(capabilities)
	if admin {
		grants = append(grants, adminCapabilities...)
	}
	if len(grants) == 0 {
		fatalf("provide --capabilities or --admin")
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openStore(openCtx, jsonPath, postgresDSN)
	openCancel()
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeStore(store)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, created, err := bootstrapKey(ctx, store, strings.TrimSpace(keyName), grants)
	if err != nil {
		fatalf("bootstrap key: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("API key %q %s with %d capabilities.\n", key.Key, state, len(key.Capabilities))
	fmt.Println("Running servers pick the change up on their next capability reload.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openStore(ctx context.Context, jsonPath, postgresDSN string) (storage.DocumentStore, error) {
	if jsonPath != "" {
		return storage.NewJSONStore(jsonPath)
	}
	return storage.NewPostgresStore(ctx, storage.PostgresConfig{DSN: postgresDSN})
}

func closeStore(store storage.DocumentStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = store.Close(ctx)
}

func bootstrapKey(ctx context.Context, store storage.DocumentStore, name string, grants []string) (models.ApiKey, bool, error) {
	key := models.ApiKey{Key: name}
	created := true

	existing, err := store.FindOne(ctx, models.CollectionKeys, storage.Query{"key": name})
	switch {
	case err == nil:
		key = models.ApiKeyFromObject(existing)
		created = false
	case !errors.Is(err, storage.ErrNotFound):
		return models.ApiKey{}, false, err
	}

	key.Capabilities = mergeCapabilities(key.Capabilities, grants)
	if err := key.Validate(); err != nil {
		return models.ApiKey{}, false, err
	}

	record := key.ToObject()
	if !created {
		record[models.StoreKeyField] = existing.StoreKey()
	}
	if err := store.Save(ctx, models.CollectionKeys, record); err != nil {
		return models.ApiKey{}, false, err
	}
	return key, created, nil
}

func splitCapabilities(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mergeCapabilities(existing, grants []string) []string {
	seen := make(map[string]struct{})
	for _, capability := range existing {
		seen[capability] = struct{}{}
	}
	for _, capability := range grants {
		seen[capability] = struct{}{}
	}
	merged := make([]string, 0, len(seen))
	for capability := range seen {
		merged = append(merged, capability)
	}
	sort.Strings(merged)
	return merged
}
