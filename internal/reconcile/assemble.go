package reconcile

import (
	"context"
	"errors"
	"fmt"

	"metaserver/internal/models"
	"metaserver/internal/storage"
)

// Assembler reconstructs a full bundle from stored collections, the inverse
// of Importer.
type Assembler struct {
	store storage.DocumentStore
}

// NewAssembler constructs an Assembler over the given store.
func NewAssembler(store storage.DocumentStore) *Assembler {
	return &Assembler{store: store}
}

// BuildPackage reassembles the bundle for the package with the given
// canonical identifier: its metadata, main media, the annotations anchored
// on that media, and every annotation type. Annotation types are not scoped
// to the package because stored annotations only reference types, never
// packages; consumers get the full vocabulary.
func (a *Assembler) BuildPackage(ctx context.Context, id string) (models.Object, error) {
	pkg, err := a.store.FindOne(ctx, models.CollectionPackages, storage.Query{"id": id})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("assemble package %s: %w", id, err)
	}
	Restore(pkg, models.KindPackage)

	bundle := models.Object{
		"meta":             pkg.Public(),
		"medias":           []any{},
		"annotations":      []any{},
		"annotation-types": []any{},
	}

	mainRef := mainMediaRef(pkg)
	if mainRef != "" {
		media, err := a.store.FindOne(ctx, models.CollectionMedias, storage.Query{"id": mainRef})
		switch {
		case err == nil:
			Restore(media, models.KindMedia)
			bundle["medias"] = []any{media.Public()}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("assemble package %s: %w", id, err)
		}

		annotations, err := a.store.Find(ctx, models.CollectionAnnotations, storage.Query{"media": mainRef})
		if err != nil {
			return nil, fmt.Errorf("assemble package %s: %w", id, err)
		}
		restored := make([]any, 0, len(annotations))
		for _, annotation := range annotations {
			Restore(annotation, models.KindAnnotation)
			restored = append(restored, annotation.Public())
		}
		bundle["annotations"] = restored
	}

	annotationTypes, err := a.store.Find(ctx, models.CollectionAnnotationTypes, nil)
	if err != nil {
		return nil, fmt.Errorf("assemble package %s: %w", id, err)
	}
	types := make([]any, 0, len(annotationTypes))
	for _, annotationType := range annotationTypes {
		Restore(annotationType, models.KindAnnotationType)
		types = append(types, annotationType.Public())
	}
	bundle["annotation-types"] = types

	return bundle, nil
}

func mainMediaRef(pkg models.Object) string {
	main, ok := pkg["main_media"].(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := main["id-ref"].(string)
	return ref
}
