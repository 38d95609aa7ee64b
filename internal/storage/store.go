package storage

import (
	"context"
	"errors"
	"strings"

	"metaserver/internal/models"
)

// ErrNotFound is returned by FindOne when no stored object matches the
// query.
var ErrNotFound = errors.New("object not found")

// Query matches stored objects on string equality at a dot-separated field
// path, e.g. {"meta.dc:creator": "alice"}. A nil or empty query matches
// every object in the collection.
type Query map[string]string

// DocumentStore is the persistence contract shared by the JSON file driver
// and the Postgres driver. Save upserts by the object's internal store key,
// which is distinct from the domain "id" field and assigned on first save.
type DocumentStore interface {
	FindOne(ctx context.Context, collection string, query Query) (models.Object, error)
	Find(ctx context.Context, collection string, query Query) ([]models.Object, error)
	Distinct(ctx context.Context, collection, field string) ([]string, error)
	Save(ctx context.Context, collection string, obj models.Object) error
	Remove(ctx context.Context, collection string, query Query) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Collections enumerates every collection a store driver provisions.
var Collections = []string{
	models.CollectionMedias,
	models.CollectionAnnotationTypes,
	models.CollectionAnnotations,
	models.CollectionPackages,
	models.CollectionUserInfo,
	models.CollectionKeys,
	models.CollectionTrace,
}

// fieldPath splits a dotted query field into its path segments.
func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

// lookupPath walks nested maps along the path and returns the string value
// at the end, or ok=false when any segment is missing or non-string.
func lookupPath(obj map[string]any, path []string) (string, bool) {
	current := any(obj)
	for _, segment := range path {
		node, ok := current.(map[string]any)
		if !ok {
			if typed, isObject := current.(models.Object); isObject {
				node = map[string]any(typed)
			} else {
				return "", false
			}
		}
		current, ok = node[segment]
		if !ok {
			return "", false
		}
	}
	value, ok := current.(string)
	return value, ok
}

// matches reports whether the object satisfies every term of the query.
func (q Query) matches(obj models.Object) bool {
	for field, want := range q {
		value, ok := lookupPath(obj, fieldPath(field))
		if !ok || value != want {
			return false
		}
	}
	return true
}
