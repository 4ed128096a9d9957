package ir

import (
	"fmt"
	"slices"
	"strings"
)

// FetchStrategy is an association's declared loading strategy.
type FetchStrategy string

const (
	FetchEager FetchStrategy = "eager"
	FetchLazy  FetchStrategy = "lazy"
)

// Cardinality of an association.
type Cardinality string

const (
	ToOne  Cardinality = "to_one"
	ToMany Cardinality = "to_many"
)

// IDStrategy controls how primary keys are produced on persist.
type IDStrategy string

const (
	// IDIdentity generates integer keys at insert time.
	IDIdentity IDStrategy = "identity"
	// IDAssigned requires the caller to supply the key.
	IDAssigned IDStrategy = "assigned"
)

// FieldType constrains plain field values.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldJSON   FieldType = "json"
)

// FieldDef declares one plain field.
type FieldDef struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable,omitempty"`
}

// Association is a directed edge from one entity type to another.
//
// For TO_ONE, Column names the foreign-key field stored on the owner.
// For TO_MANY, MappedBy names the TO_ONE association on the target whose
// column points back at the owner.
type Association struct {
	Name        string        `json:"name"`
	Target      string        `json:"target"`
	Cardinality Cardinality   `json:"cardinality"`
	Fetch       FetchStrategy `json:"fetch"`
	Column      string        `json:"column,omitempty"`
	MappedBy    string        `json:"mapped_by,omitempty"`
}

// EntityType describes one mapped record type.
type EntityType struct {
	Name         string        `json:"name"`
	IDField      string        `json:"id_field"`
	IDStrategy   IDStrategy    `json:"id_strategy"`
	Fields       []FieldDef    `json:"fields"`
	Associations []Association `json:"associations"`
}

// Field returns the named plain field.
func (e *EntityType) Field(name string) (*FieldDef, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Association returns the named association.
func (e *EntityType) Association(name string) (*Association, bool) {
	for i := range e.Associations {
		if e.Associations[i].Name == name {
			return &e.Associations[i], true
		}
	}
	return nil, false
}

// AssociationByColumn returns the TO_ONE association stored in column.
func (e *EntityType) AssociationByColumn(column string) (*Association, bool) {
	for i := range e.Associations {
		a := &e.Associations[i]
		if a.Cardinality == ToOne && a.Column == column {
			return a, true
		}
	}
	return nil, false
}

// Schema is the full mapping: every entity type the session can manage.
type Schema struct {
	Entities []EntityType `json:"entities"`

	index map[string]int
}

// NewSchema builds a schema with entities sorted by name.
func NewSchema(entities ...EntityType) *Schema {
	sorted := slices.Clone(entities)
	slices.SortFunc(sorted, func(a, b EntityType) int {
		return strings.Compare(a.Name, b.Name)
	})
	s := &Schema{Entities: sorted}
	s.reindex()
	return s
}

func (s *Schema) reindex() {
	s.index = make(map[string]int, len(s.Entities))
	for i, e := range s.Entities {
		s.index[e.Name] = i
	}
}

// Entity returns the named entity type.
func (s *Schema) Entity(name string) (*EntityType, bool) {
	if s.index == nil {
		for i := range s.Entities {
			if s.Entities[i].Name == name {
				return &s.Entities[i], true
			}
		}
		return nil, false
	}
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return &s.Entities[i], true
}

// MustEntity is like Entity but panics on unknown names.
// Use only in tests.
func (s *Schema) MustEntity(name string) *EntityType {
	e, ok := s.Entity(name)
	if !ok {
		panic(fmt.Sprintf("unknown entity %q", name))
	}
	return e
}

// Inverse returns the TO_ONE association on the target that backs a TO_MANY.
func (s *Schema) Inverse(assoc *Association) (*Association, error) {
	if assoc.Cardinality != ToMany {
		return nil, fmt.Errorf("association %s is not to_many", assoc.Name)
	}
	target, ok := s.Entity(assoc.Target)
	if !ok {
		return nil, fmt.Errorf("association %s: unknown target %q", assoc.Name, assoc.Target)
	}
	inv, ok := target.Association(assoc.MappedBy)
	if !ok || inv.Cardinality != ToOne {
		return nil, fmt.Errorf("association %s: mapped_by %q is not a to_one on %s", assoc.Name, assoc.MappedBy, assoc.Target)
	}
	return inv, nil
}
