package fetchplan

import (
	"fmt"

	"github.com/roach88/pcx/internal/ir"
)

// Decision is the planner's verdict for one association.
type Decision string

const (
	// Inline loads the associated record(s) before the owner is returned.
	Inline Decision = "inline"
	// Proxy installs an uninitialized lazy reference.
	Proxy Decision = "proxy"
	// Batch loads the association for many owners in one round trip.
	Batch Decision = "batch"
)

// Source says where inline data comes from.
type Source string

const (
	// FromRow means the data is already nested in the result row.
	FromRow Source = "row"
	// SecondaryFetch means one extra store round trip per owner (or per
	// batch of owners when the decision is Batch).
	SecondaryFetch Source = "secondary_fetch"
	// Deferred means nothing is fetched until first access.
	Deferred Source = "deferred"
)

// QueryContext describes the access path that produced the owner.
type QueryContext struct {
	// JoinFetch names the associations the query join-fetched.
	JoinFetch []string
	// MultiRow is true when the owner came from a query result rather than
	// a single-key lookup.
	MultiRow bool
	// Distinct requests deduplication of join-fetched TO_MANY rows.
	Distinct bool
}

// Joined reports whether name was join-fetched.
func (qc QueryContext) Joined(name string) bool {
	for _, n := range qc.JoinFetch {
		if n == name {
			return true
		}
	}
	return false
}

// Plan is the full outcome for one association.
type Plan struct {
	Association string   `json:"association"`
	Decision    Decision `json:"decision"`
	Source      Source   `json:"source"`
	// Deduplicate is only meaningful for a join-fetched TO_MANY. When false,
	// an owner with M associated records appears M times in the result.
	Deduplicate bool `json:"deduplicate"`
}

func (p Plan) String() string {
	return fmt.Sprintf("%s: %s (%s)", p.Association, p.Decision, p.Source)
}

// Option configures a Planner.
type Option func(*Planner)

// WithBatchSize enables batched loading of EAGER associations for
// multi-row results. Zero (the default) keeps the one-fetch-per-owner path.
func WithBatchSize(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// Planner evaluates the fetch decision table.
type Planner struct {
	batchSize int
}

// New creates a planner.
func New(opts ...Option) *Planner {
	p := &Planner{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchSize returns the configured batch size, zero when batching is off.
func (p *Planner) BatchSize() int {
	return p.batchSize
}

// Plan decides how assoc is loaded for an owner produced under qc.
//
//	strategy  join-fetch  decision
//	any       yes         Inline from the row, TO_MANY rows not deduplicated
//	EAGER     no          Inline by secondary fetch (Batch if enabled and MultiRow)
//	LAZY      no          Proxy
func (p *Planner) Plan(assoc *ir.Association, qc QueryContext) Plan {
	plan := Plan{Association: assoc.Name}

	switch {
	case qc.Joined(assoc.Name):
		plan.Decision = Inline
		plan.Source = FromRow
		plan.Deduplicate = assoc.Cardinality == ir.ToMany && qc.Distinct

	case assoc.Fetch == ir.FetchEager:
		plan.Source = SecondaryFetch
		if p.batchSize > 0 && qc.MultiRow {
			plan.Decision = Batch
		} else {
			plan.Decision = Inline
		}

	default:
		plan.Decision = Proxy
		plan.Source = Deferred
	}

	return plan
}

// PlanAll plans every association of an entity type in declaration order.
func (p *Planner) PlanAll(et *ir.EntityType, qc QueryContext) []Plan {
	plans := make([]Plan, 0, len(et.Associations))
	for i := range et.Associations {
		plans = append(plans, p.Plan(&et.Associations[i], qc))
	}
	return plans
}
