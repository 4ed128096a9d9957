package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/pcx/internal/ir"
)

// ValidationResult reports problems found in a query plan.
//
// Errors make the plan unexecutable. Warnings flag plans that execute but
// probably do not do what the caller expects.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the plan has no errors.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the errors joined into one error, or nil.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Errors, "; "))
}

// Validate checks a query plan against the schema.
// Validate is a pure function with no side effects.
func Validate(schema *ir.Schema, query Query) ValidationResult {
	v := &validator{
		schema:   schema,
		errors:   []string{},
		warnings: []string{},
	}
	v.validateQuery(query)

	return ValidationResult{
		Errors:   v.errors,
		Warnings: v.warnings,
	}
}

// validator accumulates findings during traversal.
type validator struct {
	schema   *ir.Schema
	errors   []string
	warnings []string
}

func (v *validator) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) warnf(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(&query)
	case *Select:
		v.validateSelect(query)
	default:
		v.errorf("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(s *Select) {
	et, ok := v.schema.Entity(s.From)
	if !ok {
		v.errorf("unknown entity %q", s.From)
		return
	}

	toMany := 0
	seen := make(map[string]bool, len(s.Fetch))
	for _, f := range s.Fetch {
		if seen[f.Association] {
			v.errorf("%s: association %q join-fetched twice", et.Name, f.Association)
			continue
		}
		seen[f.Association] = true

		a, ok := et.Association(f.Association)
		if !ok {
			v.errorf("%s: unknown association %q", et.Name, f.Association)
			continue
		}
		if _, ok := v.schema.Entity(a.Target); !ok {
			v.errorf("%s.%s: unknown target %q", et.Name, a.Name, a.Target)
			continue
		}
		if a.Cardinality == ir.ToMany {
			toMany++
			if _, err := v.schema.Inverse(a); err != nil {
				v.errorf("%s", err)
			}
		}
	}
	if toMany > 1 {
		v.warnf("%s: join-fetching %d to_many associations multiplies result rows", et.Name, toMany)
	}
	if s.Distinct && toMany == 0 {
		v.warnf("%s: distinct has no effect without a to_many join-fetch", et.Name)
	}

	if s.Filter != nil {
		v.validatePredicate(et, s.Filter)
	}
}

func (v *validator) validatePredicate(et *ir.EntityType, p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.validateField(et, pred.Field)
		v.validateValue(et, pred.Field, pred.Value)
	case *Equals:
		v.validatePredicate(et, *pred)
	case BoundEquals:
		v.validateField(et, pred.Field)
		if !strings.HasPrefix(pred.BoundVar, "bound.") {
			v.errorf("bound variable %q must use bound.name form", pred.BoundVar)
		}
	case *BoundEquals:
		v.validatePredicate(et, *pred)
	case In:
		v.validateField(et, pred.Field)
		for _, val := range pred.Values {
			v.validateValue(et, pred.Field, val)
		}
		if len(pred.Values) == 0 {
			v.warnf("%s: empty IN list for %q matches nothing", et.Name, pred.Field)
		}
	case *In:
		v.validatePredicate(et, *pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(et, sub)
		}
	case *And:
		v.validatePredicate(et, *pred)
	default:
		v.errorf("unknown predicate type: %T", p)
	}
}

func (v *validator) validateField(et *ir.EntityType, name string) {
	if _, err := ResolveField(et, name); err != nil {
		v.errorf("%s", err)
	}
}

func (v *validator) validateValue(et *ir.EntityType, field string, val ir.IRValue) {
	switch val.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
	case ir.IRNull, nil:
		v.errorf("%s: %q compared to null never matches", et.Name, field)
	default:
		v.errorf("%s: %q compared to a %T", et.Name, field, val)
	}
}
