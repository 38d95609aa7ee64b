// Package auth implements the capability model: API keys grant flat
// verb+target tokens, and the gate checks requests against an in-memory
// table reloaded from the key collection.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"metaserver/internal/models"
	"metaserver/internal/observability/metrics"
	"metaserver/internal/storage"
)

// DefaultKey is assumed for requests that present no API key at all.
const DefaultKey = "default"

// Capabilities is the set of tokens one key grants.
type Capabilities map[string]struct{}

// Has reports whether the set contains the token.
func (c Capabilities) Has(token string) bool {
	_, ok := c[token]
	return ok
}

// HasAny reports whether the set contains at least one of the tokens.
func (c Capabilities) HasAny(tokens ...string) bool {
	for _, token := range tokens {
		if c.Has(token) {
			return true
		}
	}
	return false
}

// CapabilityStore caches the key collection as an immutable lookup table.
// Reload builds a fresh table and swaps the reference whole, so lookups
// never observe a partially loaded table. Concurrent reloads collapse into
// one storage round trip.
type CapabilityStore struct {
	store   storage.DocumentStore
	logger  *slog.Logger
	metrics *metrics.Recorder
	group   singleflight.Group

	mu    sync.RWMutex
	table map[string]Capabilities
}

// NewCapabilityStore constructs an empty capability store. Call Reload
// before serving traffic.
func NewCapabilityStore(store storage.DocumentStore, logger *slog.Logger, recorder *metrics.Recorder) *CapabilityStore {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &CapabilityStore{
		store:   store,
		logger:  logger,
		metrics: recorder,
		table:   map[string]Capabilities{},
	}
}

// Reload rebuilds the table from the key collection. Every key mutation
// must be followed by a Reload so the gate sees the change.
func (s *CapabilityStore) Reload(ctx context.Context) error {
	_, err, _ := s.group.Do("reload", func() (any, error) {
		records, err := s.store.Find(ctx, models.CollectionKeys, nil)
		if err != nil {
			return nil, fmt.Errorf("load api keys: %w", err)
		}
		next := make(map[string]Capabilities, len(records))
		for _, record := range records {
			key := models.ApiKeyFromObject(record)
			if key.Key == "" {
				continue
			}
			grants := make(Capabilities, len(key.Capabilities))
			for _, token := range key.Capabilities {
				grants[token] = struct{}{}
			}
			next[key.Key] = grants
		}
		s.mu.Lock()
		s.table = next
		s.mu.Unlock()
		s.metrics.CapabilityReloaded()
		s.logger.InfoContext(ctx, "reloaded capability table", "keys", len(next))
		return nil, nil
	})
	return err
}

// Lookup returns the capabilities granted to the key. Unknown keys get the
// empty set, which denies everything.
func (s *CapabilityStore) Lookup(key string) Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table[key]
}
