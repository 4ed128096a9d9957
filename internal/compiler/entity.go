package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pcx/internal/ir"
)

// CompileSchema compiles every entity under the top-level "entity" struct.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Team: { fields: {name: "string"} }`)
//	schema, err := CompileSchema(v)
//
// The result is structurally complete but not yet checked; run Validate
// before handing it to a session factory.
func CompileSchema(v cue.Value) (*ir.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var entities []ir.EntityType
	for iter.Next() {
		et, err := CompileEntity(iter.Value())
		if err != nil {
			return nil, err
		}
		entities = append(entities, *et)
	}
	return ir.NewSchema(entities...), nil
}

// CompileEntity parses one entity struct. The entity name is the struct
// label, e.g. the value at path entity.Team compiles to EntityType "Team".
//
// Defaults: id field "id" with the identity strategy, TO_ONE associations
// fetched eagerly through column "<name>_id", TO_MANY associations lazily.
func CompileEntity(v cue.Value) (*ir.EntityType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	et := &ir.EntityType{IDField: "id", IDStrategy: ir.IDIdentity}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		et.Name = labels[len(labels)-1].String()
	}

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		field, err := optionalString(idVal, "field", "id.field")
		if err != nil {
			return nil, err
		}
		if field != "" {
			et.IDField = field
		}
		strategy, err := optionalString(idVal, "strategy", "id.strategy")
		if err != nil {
			return nil, err
		}
		if strategy != "" {
			et.IDStrategy = ir.IDStrategy(strategy)
		}
	}

	var err error
	if et.Fields, err = parseFields(v); err != nil {
		return nil, err
	}
	if et.Associations, err = parseAssociations(v); err != nil {
		return nil, err
	}
	return et, nil
}

// parseFields reads the "fields" struct. Each field is either a type name
// string ("string", "int?") or a CUE type (string, int, bool, a struct or a
// list). A trailing "?" marks the field nullable.
func parseFields(v cue.Value) ([]ir.FieldDef, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}
	iter, err := fieldsVal.Fields(cue.Optional(true))
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []ir.FieldDef
	for iter.Next() {
		f := ir.FieldDef{Name: iter.Label()}
		fv := iter.Value()
		if iter.IsOptional() {
			f.Nullable = true
		}
		if s, err := fv.String(); err == nil {
			if strings.HasSuffix(s, "?") {
				f.Nullable = true
				s = strings.TrimSuffix(s, "?")
			}
			f.Type = ir.FieldType(s)
		} else {
			ft, err := kindToFieldType(fv)
			if err != nil {
				return nil, err
			}
			f.Type = ft
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// kindToFieldType maps an unresolved CUE type to a field type.
// Floats are forbidden: canonical JSON carries integers only.
func kindToFieldType(v cue.Value) (ir.FieldType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return ir.FieldString, nil
	case cue.IntKind:
		return ir.FieldInt, nil
	case cue.BoolKind:
		return ir.FieldBool, nil
	case cue.ListKind, cue.StructKind:
		return ir.FieldJSON, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// parseAssociations reads the "associations" struct in declaration order.
func parseAssociations(v cue.Value) ([]ir.Association, error) {
	assocVal := v.LookupPath(cue.ParsePath("associations"))
	if !assocVal.Exists() {
		return nil, nil
	}
	iter, err := assocVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var assocs []ir.Association
	for iter.Next() {
		name := iter.Label()
		av := iter.Value()
		path := "associations." + name

		target, err := optionalString(av, "target", path+".target")
		if err != nil {
			return nil, err
		}
		if target == "" {
			return nil, &CompileError{Field: path + ".target", Message: "target is required", Pos: av.Pos()}
		}
		card, err := optionalString(av, "cardinality", path+".cardinality")
		if err != nil {
			return nil, err
		}
		if card == "" {
			return nil, &CompileError{Field: path + ".cardinality", Message: "cardinality is required", Pos: av.Pos()}
		}
		fetch, err := optionalString(av, "fetch", path+".fetch")
		if err != nil {
			return nil, err
		}
		column, err := optionalString(av, "column", path+".column")
		if err != nil {
			return nil, err
		}
		mappedBy, err := optionalString(av, "mapped_by", path+".mapped_by")
		if err != nil {
			return nil, err
		}

		a := ir.Association{
			Name:        name,
			Target:      target,
			Cardinality: ir.Cardinality(card),
			Fetch:       ir.FetchStrategy(fetch),
			Column:      column,
			MappedBy:    mappedBy,
		}
		if a.Fetch == "" {
			a.Fetch = ir.FetchLazy
			if a.Cardinality == ir.ToOne {
				a.Fetch = ir.FetchEager
			}
		}
		if a.Cardinality == ir.ToOne && a.Column == "" {
			a.Column = name + "_id"
		}
		assocs = append(assocs, a)
	}
	return assocs, nil
}

// optionalString reads a concrete string at path, or "" when absent.
func optionalString(v cue.Value, path, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Report the first error that carries a position.
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
