package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/pcx/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrNoEntities         = "E100" // schema declares no entity
	ErrInvalidName        = "E101" // entity, field or association name is not an identifier
	ErrDuplicateName      = "E102" // name declared twice within one entity
	ErrInvalidFieldType   = "E103" // field type outside string|int|bool|json
	ErrFloatTypeForbidden = "E104" // float types not allowed
	ErrInvalidEnum        = "E105" // bad cardinality, fetch or id strategy
	ErrUnknownTarget      = "E106" // association target is not a declared entity
	ErrInvalidMappedBy    = "E107" // mapped_by does not name a TO_ONE pointing back
	ErrInvalidColumn      = "E108" // TO_ONE column missing or colliding
	ErrInvalidIDField     = "E109" // id field empty or colliding with a field
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// identPattern restricts names to identifiers so keys like "Team#1" and
// JSON paths like "$.team_id" stay unambiguous.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a compiled schema. Returns all errors found (does not
// fail fast), in entity order.
func Validate(schema *ir.Schema) []ValidationError {
	var errs []ValidationError
	if schema == nil || len(schema.Entities) == 0 {
		return []ValidationError{{
			Field:   "entity",
			Message: "at least one entity is required",
			Code:    ErrNoEntities,
		}}
	}

	seen := make(map[string]bool)
	for i := range schema.Entities {
		et := &schema.Entities[i]
		path := "entity." + et.Name
		if seen[et.Name] {
			errs = append(errs, ValidationError{
				Field: path, Message: fmt.Sprintf("duplicate entity %q", et.Name), Code: ErrDuplicateName,
			})
		}
		seen[et.Name] = true
		errs = append(errs, validateEntity(schema, et, path)...)
	}
	return errs
}

func validateEntity(schema *ir.Schema, et *ir.EntityType, path string) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if !identPattern.MatchString(et.Name) {
		add(path, ErrInvalidName, "entity name %q is not an identifier", et.Name)
	}
	if !identPattern.MatchString(et.IDField) {
		add(path+".id.field", ErrInvalidIDField, "id field %q is not an identifier", et.IDField)
	}
	if et.IDStrategy != ir.IDIdentity && et.IDStrategy != ir.IDAssigned {
		add(path+".id.strategy", ErrInvalidEnum, "invalid id strategy %q, must be \"identity\" or \"assigned\"", et.IDStrategy)
	}

	// Fields, association names and association columns share one namespace:
	// columns are stored next to plain fields.
	names := map[string]string{et.IDField: "id field"}
	claim := func(field, name, what string) {
		if prev, ok := names[name]; ok {
			add(field, ErrDuplicateName, "%s %q collides with %s", what, name, prev)
			return
		}
		names[name] = what
	}

	for _, f := range et.Fields {
		fp := path + ".fields." + f.Name
		if !identPattern.MatchString(f.Name) {
			add(fp, ErrInvalidName, "field name %q is not an identifier", f.Name)
		}
		if f.Name == et.IDField {
			add(fp, ErrInvalidIDField, "field %q is the id field", f.Name)
		} else {
			claim(fp, f.Name, "field")
		}
		switch {
		case isFloatType(string(f.Type)):
			add(fp, ErrFloatTypeForbidden, "float type forbidden for field %q, use int instead", f.Name)
		case !isValidType(f.Type):
			add(fp, ErrInvalidFieldType, "invalid type %q for field %q", f.Type, f.Name)
		}
	}

	for i := range et.Associations {
		a := &et.Associations[i]
		ap := path + ".associations." + a.Name
		if !identPattern.MatchString(a.Name) {
			add(ap, ErrInvalidName, "association name %q is not an identifier", a.Name)
		}
		claim(ap, a.Name, "association")

		if a.Fetch != ir.FetchEager && a.Fetch != ir.FetchLazy {
			add(ap+".fetch", ErrInvalidEnum, "invalid fetch %q, must be \"eager\" or \"lazy\"", a.Fetch)
		}
		target, ok := schema.Entity(a.Target)
		if !ok {
			add(ap+".target", ErrUnknownTarget, "unknown target entity %q", a.Target)
		}

		switch a.Cardinality {
		case ir.ToOne:
			if a.Column == "" {
				add(ap+".column", ErrInvalidColumn, "to_one association requires a column")
			} else if a.Column != a.Name {
				claim(ap+".column", a.Column, "column")
			}
			if a.MappedBy != "" {
				add(ap+".mapped_by", ErrInvalidMappedBy, "mapped_by is only valid on to_many associations")
			}
		case ir.ToMany:
			if a.Column != "" {
				add(ap+".column", ErrInvalidColumn, "to_many associations are stored on the target; drop column")
			}
			if !ok {
				break
			}
			inv, found := target.Association(a.MappedBy)
			switch {
			case a.MappedBy == "":
				add(ap+".mapped_by", ErrInvalidMappedBy, "to_many association requires mapped_by")
			case !found || inv.Cardinality != ir.ToOne:
				add(ap+".mapped_by", ErrInvalidMappedBy, "%q is not a to_one association on %s", a.MappedBy, a.Target)
			case inv.Target != et.Name:
				add(ap+".mapped_by", ErrInvalidMappedBy, "%s.%s points at %s, not %s", a.Target, a.MappedBy, inv.Target, et.Name)
			}
		default:
			add(ap+".cardinality", ErrInvalidEnum, "invalid cardinality %q, must be \"to_one\" or \"to_many\"", a.Cardinality)
		}
	}
	return errs
}

// isValidType checks if a field type is supported.
func isValidType(t ir.FieldType) bool {
	switch t {
	case ir.FieldString, ir.FieldInt, ir.FieldBool, ir.FieldJSON:
		return true
	}
	return false
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	floatTypes := map[string]bool{
		"float":   true,
		"float32": true,
		"float64": true,
		"number":  true,
		"double":  true,
	}
	return floatTypes[t]
}
