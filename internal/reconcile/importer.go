package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"metaserver/internal/models"
	"metaserver/internal/observability/metrics"
	"metaserver/internal/storage"
)

// ErrMalformedBundle is returned when a bundle needs its first media to
// resolve the package's main media reference but ships none, or carries no
// package metadata at all.
var ErrMalformedBundle = errors.New("bundle is missing main media data")

// mainMediaPlaceholder is emitted by legacy authoring tools that never
// learned the media's real identifier.
const mainMediaPlaceholder = "package1"

// DefaultImportConcurrency bounds how many bundle imports run at once.
const DefaultImportConcurrency = 4

// Bundle is the external package interchange shape: the package metadata
// plus the full closure of elements it references.
type Bundle struct {
	Medias          []models.Object `json:"medias"`
	AnnotationTypes []models.Object `json:"annotation-types"`
	Annotations     []models.Object `json:"annotations"`
	Meta            models.Object   `json:"meta"`
}

// Importer persists bundles element by element, reconciling identities as
// it goes. Imports are not transactional: a crash mid-import leaves the
// elements written so far in place, and re-importing the bundle resumes
// from the deduplication checks.
type Importer struct {
	store   storage.DocumentStore
	logger  *slog.Logger
	metrics *metrics.Recorder
	sem     *semaphore.Weighted
}

// NewImporter constructs an Importer. concurrency <= 0 selects the default
// bound.
func NewImporter(store storage.DocumentStore, logger *slog.Logger, recorder *metrics.Recorder, concurrency int) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultImportConcurrency
	}
	return &Importer{
		store:   store,
		logger:  logger,
		metrics: recorder,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
}

// ImportBundle stores a bundle's elements in dependency order (medias,
// annotation types, annotations, package) and returns the package's
// canonical identifier. Medias already present by identifier are skipped;
// annotation types already present by exact title are skipped with their
// identifier recorded so annotations re-point at the survivor. The package
// itself is only written when its identifier is new.
func (imp *Importer) ImportBundle(ctx context.Context, bundle Bundle) (string, error) {
	if err := imp.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer imp.sem.Release(1)
	imp.metrics.ImportStarted()

	id, err := imp.importBundle(ctx, bundle)
	switch {
	case errors.Is(err, ErrMalformedBundle):
		imp.metrics.ImportFinished("malformed")
	case err != nil:
		imp.metrics.ImportFinished("failed")
	default:
		imp.metrics.ImportFinished("succeeded")
	}
	return id, err
}

func (imp *Importer) importBundle(ctx context.Context, bundle Bundle) (string, error) {
	if bundle.Meta == nil {
		return "", fmt.Errorf("%w: no package metadata", ErrMalformedBundle)
	}
	mapping := IDMapping{}

	for _, media := range bundle.Medias {
		if err := imp.importMedia(ctx, media, mapping); err != nil {
			return "", err
		}
	}
	for _, annotationType := range bundle.AnnotationTypes {
		if err := imp.importAnnotationType(ctx, annotationType, mapping); err != nil {
			return "", err
		}
	}
	for _, annotation := range bundle.Annotations {
		Sanitize(annotation, models.KindAnnotation)
		AssignID(annotation, mapping)
		RewriteRefs(annotation, models.KindAnnotation, mapping)
		if err := imp.store.Save(ctx, models.CollectionAnnotations, annotation); err != nil {
			return "", fmt.Errorf("import annotation %s: %w", annotation.ID(), err)
		}
	}

	pkg := bundle.Meta
	if err := imp.resolveMainMedia(pkg, bundle.Medias, mapping); err != nil {
		return "", err
	}
	Sanitize(pkg, models.KindPackage)
	AssignID(pkg, mapping)

	_, err := imp.store.FindOne(ctx, models.CollectionPackages, storage.Query{"id": pkg.ID()})
	switch {
	case err == nil:
		// Already imported; leave the stored package untouched.
	case errors.Is(err, storage.ErrNotFound):
		if err := imp.store.Save(ctx, models.CollectionPackages, pkg); err != nil {
			return "", fmt.Errorf("import package %s: %w", pkg.ID(), err)
		}
	default:
		return "", fmt.Errorf("import package %s: %w", pkg.ID(), err)
	}

	imp.logger.InfoContext(ctx, "imported bundle",
		"package", pkg.ID(),
		"medias", len(bundle.Medias),
		"annotation_types", len(bundle.AnnotationTypes),
		"annotations", len(bundle.Annotations),
		"remapped", len(mapping))
	return pkg.ID(), nil
}

func (imp *Importer) importMedia(ctx context.Context, media models.Object, mapping IDMapping) error {
	if id := media.ID(); id != "" {
		_, err := imp.store.FindOne(ctx, models.CollectionMedias, storage.Query{"id": id})
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("import media %s: %w", id, err)
		}
	}
	Sanitize(media, models.KindMedia)
	AssignID(media, mapping)
	if err := imp.store.Save(ctx, models.CollectionMedias, media); err != nil {
		return fmt.Errorf("import media %s: %w", media.ID(), err)
	}
	return nil
}

func (imp *Importer) importAnnotationType(ctx context.Context, annotationType models.Object, mapping IDMapping) error {
	title, _ := annotationType["dc:title"].(string)
	if title != "" {
		existing, err := imp.store.FindOne(ctx, models.CollectionAnnotationTypes, storage.Query{"dc:title": title})
		if err == nil {
			if oldID := annotationType.ID(); oldID != "" && oldID != existing.ID() {
				mapping.Record(oldID, existing.ID())
			}
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("import annotation type %q: %w", title, err)
		}
	}
	Sanitize(annotationType, models.KindAnnotationType)
	AssignID(annotationType, mapping)
	if err := imp.store.Save(ctx, models.CollectionAnnotationTypes, annotationType); err != nil {
		return fmt.Errorf("import annotation type %q: %w", title, err)
	}
	return nil
}

// resolveMainMedia normalises the package's main media reference. A bare
// string becomes {"id-ref": value}; the legacy placeholder or a missing
// reference falls back to the first media's canonical identifier.
func (imp *Importer) resolveMainMedia(pkg models.Object, medias []models.Object, mapping IDMapping) error {
	var main map[string]any
	switch value := pkg["main_media"].(type) {
	case string:
		main = map[string]any{"id-ref": value}
		pkg["main_media"] = main
	case map[string]any:
		main = value
	default:
		main = map[string]any{}
		pkg["main_media"] = main
	}

	ref, _ := main["id-ref"].(string)
	if ref == "" || ref == mainMediaPlaceholder {
		if len(medias) == 0 {
			return ErrMalformedBundle
		}
		main["id-ref"] = medias[0].ID()
		return nil
	}
	if canonical, remapped := mapping.Resolve(ref); remapped {
		main["id-ref"] = canonical
	}
	return nil
}
