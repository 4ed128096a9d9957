package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/pcx/internal/session"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []session.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			target := ev.Key
			if target == "" {
				target = ev.Query
			}
			fmt.Fprintf(&buf, "  [%d] %s %s (%d rows)\n", ev.Seq, ev.Kind, target, ev.Rows)
		}
	}

	return buf.String()
}

// assertFetchCount checks the number of store reads the steps performed.
func assertFetchCount(result *Result, a Assertion) error {
	got := result.Fetches(a.Kind)
	if got == *a.Count {
		return nil
	}
	what := "fetches"
	if a.Kind != "" {
		what = a.Kind + " fetches"
	}
	return &AssertionError{
		Type:     AssertFetchCount,
		Expected: fmt.Sprintf("%d %s", *a.Count, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
		Trace:    result.Trace,
	}
}

// assertSameInstance checks that every handle names one object.
func assertSameInstance(h *Harness, a Assertion) error {
	first, err := h.lookup(a.Handles[0])
	if err != nil {
		return err
	}
	for _, name := range a.Handles[1:] {
		other, err := h.lookup(name)
		if err != nil {
			return err
		}
		if other != first {
			return &AssertionError{
				Type:     AssertSameInstance,
				Expected: fmt.Sprintf("%s and %s to be one instance", a.Handles[0], name),
				Actual:   fmt.Sprintf("%s and %s are distinct", first, other),
			}
		}
	}
	return nil
}

// assertLoaded checks whether an instance, or one of its associations, is
// loaded.
func assertLoaded(h *Harness, a Assertion) error {
	e, err := h.lookup(a.Handle)
	if err != nil {
		return err
	}

	what := a.Handle
	var got bool
	if a.Association == "" {
		got = h.session.IsLoaded(e)
	} else {
		what = a.Handle + "." + a.Association
		got, err = h.session.IsAssociationLoaded(e, a.Association)
		if err != nil {
			return err
		}
	}

	if got != *a.Expect {
		return &AssertionError{
			Type:     AssertLoaded,
			Expected: fmt.Sprintf("loaded(%s) = %t", what, *a.Expect),
			Actual:   fmt.Sprintf("loaded(%s) = %t", what, got),
		}
	}
	return nil
}

// assertManaged checks whether the session still manages an instance.
func assertManaged(h *Harness, a Assertion) error {
	e, err := h.lookup(a.Handle)
	if err != nil {
		return err
	}
	if got := h.session.Contains(e); got != *a.Expect {
		return &AssertionError{
			Type:     AssertManaged,
			Expected: fmt.Sprintf("managed(%s) = %t", a.Handle, *a.Expect),
			Actual:   fmt.Sprintf("managed(%s) = %t", a.Handle, got),
		}
	}
	return nil
}

// assertResultCount checks the length of a bound collection or query result.
func assertResultCount(h *Harness, a Assertion) error {
	list, ok := h.lists[a.Handle]
	if !ok {
		return fmt.Errorf("unknown list %q", a.Handle)
	}
	if len(list) != *a.Count {
		return &AssertionError{
			Type:     AssertResultCount,
			Expected: fmt.Sprintf("%d results in %s", *a.Count, a.Handle),
			Actual:   fmt.Sprintf("%d results", len(list)),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and the
// harness state left by the steps. Returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFetchCount:
			err = assertFetchCount(result, assertion)
		case AssertSameInstance:
			err = assertSameInstance(h, assertion)
		case AssertLoaded:
			err = assertLoaded(h, assertion)
		case AssertManaged:
			err = assertManaged(h, assertion)
		case AssertResultCount:
			err = assertResultCount(h, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}

	return errors
}
