package queryir

import (
	"fmt"

	"github.com/roach88/pcx/internal/ir"
)

// FieldKind says where a filter field is stored.
type FieldKind int

const (
	// FieldPK is the primary key.
	FieldPK FieldKind = iota
	// FieldPlain is a plain field in the record's field object.
	FieldPlain
	// FieldForeignKey is a TO_ONE association column.
	FieldForeignKey
)

// FieldRef is a filter field resolved against an entity type.
type FieldRef struct {
	Kind   FieldKind
	Column string // field-object member for FieldPlain and FieldForeignKey
	Target string // target entity type for FieldForeignKey
}

// ResolveField maps a filter field name onto the entity's storage.
func ResolveField(et *ir.EntityType, name string) (FieldRef, error) {
	if name == et.IDField {
		return FieldRef{Kind: FieldPK}, nil
	}
	if _, ok := et.Field(name); ok {
		return FieldRef{Kind: FieldPlain, Column: name}, nil
	}
	if a, ok := et.Association(name); ok {
		if a.Cardinality != ir.ToOne {
			return FieldRef{}, fmt.Errorf("%s.%s: cannot filter on to_many association", et.Name, name)
		}
		return FieldRef{Kind: FieldForeignKey, Column: a.Column, Target: a.Target}, nil
	}
	if a, ok := et.AssociationByColumn(name); ok {
		return FieldRef{Kind: FieldForeignKey, Column: a.Column, Target: a.Target}, nil
	}
	return FieldRef{}, fmt.Errorf("%s: unknown field %q", et.Name, name)
}
