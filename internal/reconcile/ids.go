// Package reconcile implements identity assignment, field sanitisation and
// cross-reference repair for imported elements. Objects arrive from many
// producers with short local identifiers and storage-hostile field names;
// everything persisted goes through this package first.
package reconcile

import (
	"github.com/google/uuid"

	"metaserver/internal/models"
)

// canonicalIDLength is the length of a canonical UUID string. Anything
// shorter is treated as a producer-local identifier and replaced.
const canonicalIDLength = 36

// OldIDField preserves a replaced producer-local identifier on the object.
const OldIDField = "mds:oldid"

// IDMapping accumulates old identifier -> canonical identifier remappings
// over the course of one request or bundle import. The first recorded
// mapping for an identifier wins.
type IDMapping map[string]string

// Record remembers a remapping unless the old identifier was already
// remapped.
func (m IDMapping) Record(oldID, newID string) {
	if _, exists := m[oldID]; !exists {
		m[oldID] = newID
	}
}

// Resolve returns the canonical identifier for oldID when one was recorded.
func (m IDMapping) Resolve(oldID string) (string, bool) {
	newID, ok := m[oldID]
	return newID, ok
}

// AssignID guarantees the object carries a canonical identifier. A missing
// identifier gets a fresh UUID. A short producer-local identifier is moved
// aside to OldIDField, replaced with a fresh UUID, and the replacement is
// recorded in the mapping so later references can be repaired.
func AssignID(obj models.Object, mapping IDMapping) models.Object {
	id := obj.ID()
	switch {
	case id == "":
		obj["id"] = uuid.NewString()
	case len(id) < canonicalIDLength:
		obj[OldIDField] = id
		fresh := uuid.NewString()
		obj["id"] = fresh
		if mapping != nil {
			mapping.Record(id, fresh)
		}
	}
	return obj
}
