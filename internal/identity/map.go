package identity

import (
	"fmt"
	"slices"

	"github.com/roach88/pcx/internal/ir"
)

// ConflictError reports a Put that would bind a second handle to a key.
type ConflictError struct {
	Key ir.RecordKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity conflict: %s is already bound to a different instance", e.Key)
}

// Map is a RecordKey -> handle table holding one canonical handle per key.
type Map[H comparable] struct {
	entries map[ir.RecordKey]H
}

// New creates an empty map.
func New[H comparable]() *Map[H] {
	return &Map[H]{entries: make(map[ir.RecordKey]H)}
}

// Get returns the handle bound to key.
func (m *Map[H]) Get(key ir.RecordKey) (H, bool) {
	h, ok := m.entries[key]
	return h, ok
}

// Put binds key to h. Binding the handle already present is a no-op.
func (m *Map[H]) Put(key ir.RecordKey, h H) error {
	if existing, ok := m.entries[key]; ok {
		if existing == h {
			return nil
		}
		return &ConflictError{Key: key}
	}
	m.entries[key] = h
	return nil
}

// Remove unbinds key, reporting whether it was bound.
func (m *Map[H]) Remove(key ir.RecordKey) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

// Clear drops all entries and returns the handles that were bound,
// in key order.
func (m *Map[H]) Clear() []H {
	keys := m.Keys()
	handles := make([]H, 0, len(keys))
	for _, k := range keys {
		handles = append(handles, m.entries[k])
	}
	clear(m.entries)
	return handles
}

// Len returns the number of bound keys.
func (m *Map[H]) Len() int {
	return len(m.entries)
}

// Keys returns all bound keys sorted by type, then primary key.
func (m *Map[H]) Keys() []ir.RecordKey {
	keys := make([]ir.RecordKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, ir.CompareKeys)
	return keys
}
