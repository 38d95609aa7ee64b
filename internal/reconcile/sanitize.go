package reconcile

import (
	"strings"
	"time"

	"metaserver/internal/models"
)

// frameOfReferenceField is an Advene compatibility field some producers
// attach to medias. It is dropped on write and never stored.
const frameOfReferenceField = "http://advene.liris.cnrs.fr/ns/frame_of_reference/ms"

// The dot is reserved by the storage layer as the query path separator, so
// field names containing one are stored in an underscore-joined form. Only
// this fixed provenance pair is restored on the way back out; the inverse of
// the general rewrite would be ambiguous.
var restorableFields = map[string]string{
	"dc:created_contents": "dc:created.contents",
	"dc:creator_contents": "dc:creator.contents",
}

var timeNow = time.Now

// Sanitize prepares an external object for storage: the frame-of-reference
// compatibility field is dropped, missing provenance timestamps are stamped
// with the current time, and every field name containing a dot is rewritten
// to its underscore-joined form at the top level and inside the provenance
// map. The object is mutated in place and returned.
func Sanitize(obj models.Object, kind models.Kind) models.Object {
	if obj == nil {
		return nil
	}
	delete(obj, frameOfReferenceField)

	meta := obj.Meta(kind)
	now := timeNow().UTC().Format(time.RFC3339)
	for _, field := range []string{"dc:created", "dc:modified"} {
		if value, _ := meta[field].(string); value == "" {
			meta[field] = now
		}
	}

	renameDotted(meta)
	renameDotted(obj)
	return obj
}

// Restore is the inverse of Sanitize for the fixed restorable pair. Other
// underscore-joined names stay as stored. The object is mutated in place and
// returned.
func Restore(obj models.Object, kind models.Kind) models.Object {
	if obj == nil {
		return nil
	}
	meta := obj.Meta(kind)
	for stored, external := range restorableFields {
		if value, ok := meta[stored]; ok {
			meta[external] = value
			delete(meta, stored)
		}
	}
	return obj
}

// Uncolon adds an underscore-joined alias for every colon-qualified field
// name, recursing into nested maps. The qualified original stays in place;
// template engines that cannot address colons read the alias. This rewrite
// is one way and never undone.
func Uncolon(obj models.Object) models.Object {
	if obj == nil {
		return nil
	}
	uncolonMap(obj)
	return obj
}

func uncolonMap(m map[string]any) {
	for name, value := range m {
		if nested, ok := value.(map[string]any); ok {
			uncolonMap(nested)
		}
		if strings.Contains(name, ":") {
			m[strings.ReplaceAll(name, ":", "_")] = value
		}
	}
}

func renameDotted(m map[string]any) {
	for name, value := range m {
		if !strings.Contains(name, ".") {
			continue
		}
		m[strings.ReplaceAll(name, ".", "_")] = value
		delete(m, name)
	}
}
