package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"metaserver/internal/models"
)

// JSONStore persists every collection into a single JSON file. Writes are
// serialised behind one mutex and flushed atomically via a temp file rename,
// so a crash never leaves a torn store on disk. Intended for development and
// small single-instance deployments.
type JSONStore struct {
	mu   sync.RWMutex
	path string
	// collection name -> store key -> object
	collections map[string]map[string]models.Object
}

type jsonDataset struct {
	Collections map[string]map[string]models.Object `json:"collections"`
}

// NewJSONStore opens (or creates) the JSON-backed document store at path.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:        path,
		collections: make(map[string]map[string]models.Object, len(Collections)),
	}
	for _, collection := range Collections {
		store.collections[collection] = make(map[string]models.Object)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.persistLocked()
		}
		return fmt.Errorf("read store: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	var dataset jsonDataset
	if err := json.Unmarshal(raw, &dataset); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	for collection, objects := range dataset.Collections {
		bucket := s.collections[collection]
		if bucket == nil {
			bucket = make(map[string]models.Object, len(objects))
			s.collections[collection] = bucket
		}
		for key, obj := range objects {
			bucket[key] = obj
		}
	}
	return nil
}

// persistLocked writes the dataset to disk. Callers must hold the write
// lock (or own the store exclusively during construction).
func (s *JSONStore) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "metaserver-*.json")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jsonDataset{Collections: s.collections}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (s *JSONStore) bucket(collection string) (map[string]models.Object, error) {
	bucket, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return bucket, nil
}

// FindOne returns the first object matching the query, or ErrNotFound.
func (s *JSONStore) FindOne(ctx context.Context, collection string, query Query) (models.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, err := s.bucket(collection)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(bucket) {
		obj := bucket[key]
		if query.matches(obj) {
			return obj.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Find returns every object matching the query, in stable store-key order.
func (s *JSONStore) Find(ctx context.Context, collection string, query Query) ([]models.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, err := s.bucket(collection)
	if err != nil {
		return nil, err
	}
	results := make([]models.Object, 0, len(bucket))
	for _, key := range sortedKeys(bucket) {
		obj := bucket[key]
		if query.matches(obj) {
			results = append(results, obj.Clone())
		}
	}
	return results, nil
}

// Distinct returns the sorted distinct string values at the field path
// across the collection, skipping objects without the field.
func (s *JSONStore) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, err := s.bucket(collection)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	path := fieldPath(field)
	for _, obj := range bucket {
		if value, ok := lookupPath(obj, path); ok {
			seen[value] = struct{}{}
		}
	}
	values := make([]string, 0, len(seen))
	for value := range seen {
		values = append(values, value)
	}
	sort.Strings(values)
	return values, nil
}

// Save upserts the object by its internal store key, assigning one when the
// object has never been persisted.
func (s *JSONStore) Save(ctx context.Context, collection string, obj models.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.bucket(collection)
	if err != nil {
		return err
	}
	key := obj.StoreKey()
	if key == "" {
		key, err = generateStoreKey()
		if err != nil {
			return err
		}
		obj[models.StoreKeyField] = key
	}
	previous, existed := bucket[key]
	bucket[key] = obj.Clone()
	if err := s.persistLocked(); err != nil {
		if existed {
			bucket[key] = previous
		} else {
			delete(bucket, key)
		}
		return err
	}
	return nil
}

// Remove deletes every object matching the query.
func (s *JSONStore) Remove(ctx context.Context, collection string, query Query) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, err := s.bucket(collection)
	if err != nil {
		return err
	}
	removed := make(map[string]models.Object)
	for key, obj := range bucket {
		if query.matches(obj) {
			removed[key] = obj
			delete(bucket, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		for key, obj := range removed {
			bucket[key] = obj
		}
		return err
	}
	return nil
}

// Ping reports success whenever the backing file's directory is reachable.
func (s *JSONStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

// Close flushes the dataset one final time.
func (s *JSONStore) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func sortedKeys(bucket map[string]models.Object) []string {
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func generateStoreKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate store key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

var _ DocumentStore = (*JSONStore)(nil)
