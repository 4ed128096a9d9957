package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pcx/internal/compiler"
	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
	"github.com/roach88/pcx/internal/session"
	"github.com/roach88/pcx/internal/store"
	"github.com/roach88/pcx/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against a single session over an in-memory store,
// with a deterministic clock and session ids so traces are reproducible.
type Harness struct {
	store   *store.Store
	factory *session.Factory
	session *session.Session
	clock   *testutil.DeterministicClock
	logger  *slog.Logger

	handles map[string]*session.Entity
	lists   map[string][]*session.Entity
	trace   []session.Event
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile the scenario's schema and open a fresh in-memory store
//  2. Persist the setup records, flush and clear the session
//  3. Reset the clock and counters, then run each step and check its expect
//  4. Evaluate the final assertions
//
// The returned error reports problems that keep the scenario from running
// at all; failed expectations land in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with session logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	schema, err := compiler.LoadDir(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(":memory:", schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		clock:   testutil.NewDeterministicClock(),
		logger:  logger,
		handles: make(map[string]*session.Entity),
		lists:   make(map[string][]*session.Entity),
	}
	h.factory = session.NewFactory(st, schema,
		session.WithLogger(logger),
		session.WithBatchSize(scenario.BatchSize),
		session.WithIDGenerator(testutil.NewSequenceIDs("session")),
		session.WithClock(h.clock),
		session.WithObserver(func(ev session.Event) { h.trace = append(h.trace, ev) }),
	)
	h.session = h.factory.Open()

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.clock.Reset()
	h.trace = nil
	h.session.ResetStats()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}
	if h.trace != nil {
		result.Trace = h.trace
	}
	result.Stats = h.session.Stats()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h) {
		result.AddError(msg)
	}

	if h.session.State() != session.StateClosed {
		if err := h.session.Close(); err != nil {
			return nil, fmt.Errorf("failed to close session: %w", err)
		}
	}
	return result, nil
}

// executeSetup persists every setup record, then flushes and clears.
func (h *Harness) executeSetup(ctx context.Context, setup []PersistStep) error {
	for i, step := range setup {
		fields, err := ir.ObjectFromMap(step.Fields)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		var links map[string]*session.Entity
		if len(step.Links) > 0 {
			links = make(map[string]*session.Entity, len(step.Links))
			for assoc, handle := range step.Links {
				links[assoc] = h.handles[handle]
			}
		}

		e, err := h.session.Persist(ctx, step.Persist, fields, links)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if step.As != "" {
			h.handles[step.As] = e
		}
		h.logger.Debug("setup step completed", "step", i, "key", e.Key().String())
	}

	if err := h.session.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return h.session.Clear()
}

// stepOutcome is what a step produced, for checking its expect clause.
type stepOutcome struct {
	entity *session.Entity
	list   []*session.Entity
	value  ir.IRValue
	isList bool
}

// executeStep runs one step and records failed expectations.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	op, arg := step.Op()
	before := h.session.Stats().Fetches()

	out, err := h.perform(ctx, op, arg, step)

	fetches := h.session.Stats().Fetches() - before
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", index, op, arg, fmt.Sprintf(format, args...)))
	}

	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}
	if msg := checkError(exp, err); msg != "" {
		fail("%s", msg)
		return
	}
	if err == nil && step.As != "" {
		if out.isList {
			h.lists[step.As] = out.list
		} else if out.entity != nil {
			h.handles[step.As] = out.entity
		}
	}

	h.logger.Debug("step completed", "step", index, "op", op, "fetches", fetches)

	if exp.Fetches != nil && *exp.Fetches != fetches {
		fail("expected %d fetches, got %d", *exp.Fetches, fetches)
	}
	if err != nil {
		return
	}

	if exp.Count != nil {
		if !out.isList {
			fail("count applies to collection and query steps only")
		} else if len(out.list) != *exp.Count {
			fail("expected %d results, got %d", *exp.Count, len(out.list))
		}
	}
	if exp.Value.Kind != 0 {
		if msg := checkValue(&exp.Value, out.value); msg != "" {
			fail("%s", msg)
		}
	}

	if exp.Loaded == nil && exp.Proxy == nil && exp.SameAs == "" {
		return
	}
	if out.entity == nil {
		fail("step has no instance to check")
		return
	}
	if exp.Loaded != nil && h.session.IsLoaded(out.entity) != *exp.Loaded {
		fail("expected loaded=%t", *exp.Loaded)
	}
	if exp.Proxy != nil && out.entity.IsProxy() != *exp.Proxy {
		fail("expected proxy=%t", *exp.Proxy)
	}
	if exp.SameAs != "" {
		other, lerr := h.lookup(exp.SameAs)
		if lerr != nil {
			fail("%v", lerr)
		} else if other != out.entity {
			fail("expected the same instance as %s", exp.SameAs)
		}
	}
}

// perform dispatches one operation to the session.
func (h *Harness) perform(ctx context.Context, op, arg string, step Step) (stepOutcome, error) {
	var out stepOutcome
	switch op {
	case OpFind, OpReference:
		pk, err := ir.FromAny(step.ID)
		if err != nil {
			return out, err
		}
		if op == OpFind {
			out.entity, err = h.session.FindByKey(ctx, arg, pk)
		} else {
			out.entity, err = h.session.GetReference(arg, pk)
		}
		return out, err

	case OpGet:
		e, err := h.lookup(arg)
		if err != nil {
			return out, err
		}
		out.entity = e
		out.value, err = e.Get(ctx, step.Field)
		return out, err

	case OpRef:
		e, err := h.lookup(arg)
		if err != nil {
			return out, err
		}
		out.entity, err = e.Ref(ctx, step.Association)
		return out, err

	case OpCollection:
		e, err := h.lookup(arg)
		if err != nil {
			return out, err
		}
		out.isList = true
		out.list, err = e.Collection(ctx, step.Association)
		return out, err

	case OpQuery:
		q := queryir.Select{From: arg, Distinct: step.Distinct}
		if step.Where != "" {
			filter, err := queryir.ParseFilter(step.Where)
			if err != nil {
				return out, err
			}
			q.Filter = filter
		}
		for _, name := range step.Fetch {
			q.Fetch = append(q.Fetch, queryir.JoinFetch{Association: name})
		}
		bound, err := ir.ObjectFromMap(step.Bind)
		if err != nil {
			return out, err
		}
		out.isList = true
		out.list, err = h.session.ExecuteQuery(ctx, q, bound)
		return out, err

	case OpDetach:
		e, err := h.lookup(arg)
		if err != nil {
			return out, err
		}
		out.entity = e
		return out, h.session.Detach(e)

	case OpClear:
		return out, h.session.Clear()
	case OpClose:
		return out, h.session.Close()
	case OpFlush:
		return out, h.session.Flush(ctx)
	}
	return out, fmt.Errorf("unknown operation")
}

var indexedHandle = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// lookup resolves "name" or "name[i]" to an instance.
func (h *Harness) lookup(handle string) (*session.Entity, error) {
	if m := indexedHandle.FindStringSubmatch(handle); m != nil {
		list, ok := h.lists[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown list %q", m[1])
		}
		i, _ := strconv.Atoi(m[2])
		if i >= len(list) {
			return nil, fmt.Errorf("%s has %d items", m[1], len(list))
		}
		return list[i], nil
	}
	e, ok := h.handles[handle]
	if !ok || e == nil {
		return nil, fmt.Errorf("unknown handle %q", handle)
	}
	return e, nil
}

// checkError compares a step's error with the expected code and reason.
// It returns an empty string when they agree.
func checkError(exp *Expect, err error) string {
	if exp.Error == "" {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
		return ""
	}
	if err == nil {
		return fmt.Sprintf("expected error %s, got none", exp.Error)
	}
	if code := session.ErrorCodeOf(err); string(code) != exp.Error {
		return fmt.Sprintf("expected error %s, got %v", exp.Error, err)
	}
	if exp.Reason != "" {
		if reason := session.AccessReasonOf(err); string(reason) != exp.Reason {
			return fmt.Sprintf("expected reason %s, got %q", exp.Reason, reason)
		}
	}
	return ""
}

// checkValue compares a get result with the expected YAML value.
func checkValue(node *yaml.Node, actual ir.IRValue) string {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Sprintf("invalid expected value: %v", err)
	}
	want, err := ir.FromAny(raw)
	if err != nil {
		return fmt.Sprintf("invalid expected value: %v", err)
	}
	if actual == nil {
		actual = ir.IRNull{}
	}
	if !ir.Equal(want, actual) {
		return fmt.Sprintf("expected value %s, got %s", ir.MustMarshalCanonical(want), canonical(actual))
	}
	return ""
}

func canonical(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
