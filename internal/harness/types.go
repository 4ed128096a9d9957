package harness

import "github.com/roach88/pcx/internal/session"

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the store round trips the steps caused, in order.
	// Setup traffic is not included and sequence numbers restart at 1
	// when the first step runs.
	Trace []session.Event `json:"trace"`

	// Errors contains one message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Stats are the session's counters for the steps.
	Stats session.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []session.Event{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fetches counts the read round trips in the trace. kind narrows the count
// to "key" or "query" reads; empty counts both.
func (r *Result) Fetches(kind string) int {
	n := 0
	for _, ev := range r.Trace {
		switch ev.Kind {
		case session.EventFetchKey:
			if kind == "" || kind == "key" {
				n++
			}
		case session.EventFetchQuery:
			if kind == "" || kind == "query" {
				n++
			}
		}
	}
	return n
}
