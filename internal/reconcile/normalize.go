package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

// Normalizer upgrades annotations written by older producers to the current
// provenance shape and resolves their typing reference.
type Normalizer struct {
	store  storage.DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

// NewNormalizer constructs a Normalizer over the given store.
func NewNormalizer(store storage.DocumentStore, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// NormalizeAnnotation rewrites legacy provenance fields, stamps system
// provenance when none is present, and resolves a missing typing reference
// from the side-channel "type_title" field by exact title match, creating
// the annotation type on first sight. The annotation is mutated in place.
func (n *Normalizer) NormalizeAnnotation(ctx context.Context, ann models.Object) error {
	meta := ann.Meta(models.KindAnnotation)

	if created, ok := meta["created"]; ok {
		meta["dc:created"] = created
		meta["dc:modified"] = created
		if creator, ok := meta["creator"]; ok {
			meta["dc:creator"] = creator
			meta["dc:contributor"] = creator
			delete(meta, "creator")
		}
		delete(meta, "created")
	}

	if _, ok := meta["dc:created"]; !ok {
		now := n.now().UTC().Format(time.RFC3339)
		meta["dc:created"] = now
		meta["dc:modified"] = now
		meta["dc:creator"] = "system"
		meta["dc:contributor"] = "system"
	}

	if _, ok := meta["id-ref"]; ok {
		return nil
	}
	title, ok := ann["type_title"].(string)
	if !ok {
		return nil
	}
	typeID, err := n.resolveType(ctx, title)
	if err != nil {
		return err
	}
	meta["id-ref"] = typeID
	return nil
}

// resolveType finds the annotation type whose title matches exactly, byte
// for byte. Titles differing in case or whitespace are distinct types.
func (n *Normalizer) resolveType(ctx context.Context, title string) (string, error) {
	existing, err := n.store.FindOne(ctx, models.CollectionAnnotationTypes, storage.Query{"dc:title": title})
	if err == nil {
		return existing.ID(), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("resolve annotation type %q: %w", title, err)
	}

	now := n.now().UTC().Format(time.RFC3339)
	created := models.Object{
		"dc:title":       title,
		"dc:description": "",
		"dc:creator":     "system",
		"dc:contributor": "system",
		"dc:created":     now,
		"dc:modified":    now,
	}
	AssignID(created, nil)
	if err := n.store.Save(ctx, models.CollectionAnnotationTypes, created); err != nil {
		return "", fmt.Errorf("create annotation type %q: %w", title, err)
	}
	n.logger.InfoContext(ctx, "created annotation type", "title", title, "id", created.ID())
	return created.ID(), nil
}
