package models

// Collection names used across the document store. Every persisted record
// lives in exactly one of these.
const (
	CollectionMedias          = "medias"
	CollectionAnnotationTypes = "annotationtypes"
	CollectionAnnotations     = "annotations"
	CollectionPackages        = "packages"
	CollectionUserInfo        = "userinfo"
	CollectionKeys            = "keys"
	CollectionTrace           = "trace"
)

// Kind identifies the shape of a stored element. Field sanitisation,
// reference rewriting and provenance defaults all dispatch on it.
type Kind int

const (
	KindMedia Kind = iota
	KindAnnotationType
	KindAnnotation
	KindPackage
	KindUserInfo
)

// Collection returns the store collection backing the kind.
func (k Kind) Collection() string {
	switch k {
	case KindMedia:
		return CollectionMedias
	case KindAnnotationType:
		return CollectionAnnotationTypes
	case KindAnnotation:
		return CollectionAnnotations
	case KindPackage:
		return CollectionPackages
	case KindUserInfo:
		return CollectionUserInfo
	}
	return ""
}

// String names the kind the way it appears in API paths.
func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindAnnotationType:
		return "annotationtype"
	case KindAnnotation:
		return "annotation"
	case KindPackage:
		return "package"
	case KindUserInfo:
		return "userinfo"
	}
	return "unknown"
}

// MetaInline reports whether provenance metadata lives directly on the
// object. Annotations and medias carry a nested "meta" sub-map instead.
func (k Kind) MetaInline() bool {
	switch k {
	case KindAnnotation, KindMedia:
		return false
	}
	return true
}

// StoreKeyField is the internal upsert key member. It is assigned on first
// save and never serialised into API responses.
const StoreKeyField = "_key"

// Object is a schemaless stored element. Values are the usual
// encoding/json shapes: strings, numbers, bool, []any and nested
// map[string]any.
type Object map[string]any

// ID returns the domain identifier, or "" when absent or not a string.
func (o Object) ID() string {
	id, _ := o["id"].(string)
	return id
}

// StoreKey returns the internal upsert key, or "" when the object has not
// been persisted yet.
func (o Object) StoreKey() string {
	key, _ := o[StoreKeyField].(string)
	return key
}

// Meta returns the map holding the object's provenance fields, creating the
// nested sub-map when the kind requires one and it is missing.
func (o Object) Meta(kind Kind) map[string]any {
	if kind.MetaInline() {
		return o
	}
	if meta, ok := o["meta"].(map[string]any); ok {
		return meta
	}
	meta := map[string]any{}
	o["meta"] = meta
	return meta
}

// Clone deep-copies the object so callers can mutate the result without
// aliasing stored state.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return Object(cloneValue(map[string]any(o)).(map[string]any))
}

// Public returns a copy of the object with internal bookkeeping members
// stripped, suitable for API responses.
func (o Object) Public() Object {
	clone := o.Clone()
	delete(clone, StoreKeyField)
	return clone
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = cloneValue(item)
		}
		return out
	case Object:
		return cloneValue(map[string]any(value))
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}
