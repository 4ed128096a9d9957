package queryir

import "github.com/roach88/pcx/internal/ir"

// Query is a sealed interface for query plans.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
type Predicate interface {
	predicateNode()
}

// Select returns records of one entity type.
//
// Each listed JoinFetch is loaded inline from the same result rows. A
// join-fetched TO_MANY yields one row per associated record, so an owner
// with M associated records appears M times unless Distinct is set.
type Select struct {
	From     string      // Entity type name
	Filter   Predicate   // nil = all records
	Fetch    []JoinFetch // Join-fetch directives
	Distinct bool        // Collapse repeated owners in the result
}

func (Select) queryNode() {}

// JoinFetch forces an association to load inline for one query.
type JoinFetch struct {
	Association string
}

// FetchNames returns the join-fetched association names in order.
func (s Select) FetchNames() []string {
	names := make([]string, len(s.Fetch))
	for i, f := range s.Fetch {
		names[i] = f.Association
	}
	return names
}

// Equals is field = literal.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// BoundEquals is field = bound variable. BoundVar follows "bound.name";
// the value is supplied at execution time.
type BoundEquals struct {
	Field    string
	BoundVar string
}

func (BoundEquals) predicateNode() {}

// In is field IN (values...). An empty Values list matches nothing.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// And is a conjunction. Empty Predicates means always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// BoundVarName strips the "bound." prefix.
func BoundVarName(boundVar string) string {
	const prefix = "bound."
	if len(boundVar) > len(prefix) && boundVar[:len(prefix)] == prefix {
		return boundVar[len(prefix):]
	}
	return boundVar
}
