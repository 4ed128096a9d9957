package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/session"
	"github.com/roach88/pcx/internal/store"
)

// workspace is one session over a database file, with every round trip
// recorded for display.
type workspace struct {
	schema  *ir.Schema
	store   *store.Store
	session *session.Session
	trace   []session.Event
}

// openWorkspace loads and validates the schema, opens the database and
// starts a session. Failures are ExitCommandError.
func openWorkspace(opts *RootOptions, schemaDir string) (*workspace, error) {
	dbPath, err := requireDB(opts)
	if err != nil {
		return nil, err
	}

	schema, err := LoadValidSchema(schemaDir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return nil, WrapExitError(ExitCommandError, loadErr.Code, err)
		}
		return nil, WrapExitError(ExitCommandError, ErrCodeGeneric, err)
	}

	st, err := store.Open(dbPath, schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, err)
	}

	w := &workspace{schema: schema, store: st}
	factory := session.NewFactory(st, schema,
		session.WithLogger(opts.Logger()),
		session.WithBatchSize(opts.BatchSize),
		session.WithObserver(func(ev session.Event) { w.trace = append(w.trace, ev) }),
	)
	w.session = factory.Open()
	return w, nil
}

// Close ends the session and closes the database.
func (w *workspace) Close() error {
	var errs []error
	if w.session.State() != session.StateClosed {
		errs = append(errs, w.session.Close())
	}
	errs = append(errs, w.store.Close())
	return errors.Join(errs...)
}

// RecordView is the printable form of one instance.
type RecordView struct {
	Key          string         `json:"key"`
	Fields       map[string]any `json:"fields"`
	Associations map[string]any `json:"associations,omitempty"`
}

// FetchReport summarizes the round trips an operation caused.
type FetchReport struct {
	Trace []session.Event `json:"trace"`
	Stats session.Stats   `json:"stats"`
}

// view renders e without triggering any fetch beyond its own
// initialization. A TO_ONE shows the target key and whether it is loaded;
// a TO_MANY shows its member keys once loaded.
func (w *workspace) view(ctx context.Context, e *session.Entity) (RecordView, error) {
	fields, err := e.Fields(ctx)
	if err != nil {
		return RecordView{}, err
	}
	v := RecordView{Key: e.Key().String(), Fields: make(map[string]any, len(fields))}
	for name, val := range fields {
		v.Fields[name] = ir.ToAny(val)
	}

	et, ok := w.schema.Entity(e.TypeID())
	if !ok || len(et.Associations) == 0 {
		return v, nil
	}
	v.Associations = make(map[string]any, len(et.Associations))
	for _, a := range et.Associations {
		loaded, err := w.session.IsAssociationLoaded(e, a.Name)
		if err != nil {
			return RecordView{}, err
		}
		if a.Cardinality == ir.ToOne {
			target, err := e.Ref(ctx, a.Name)
			if err != nil {
				return RecordView{}, err
			}
			if target == nil {
				v.Associations[a.Name] = nil
				continue
			}
			v.Associations[a.Name] = map[string]any{"key": target.Key().String(), "loaded": loaded}
			continue
		}
		if !loaded {
			v.Associations[a.Name] = map[string]any{"loaded": false}
			continue
		}
		members, err := e.Collection(ctx, a.Name)
		if err != nil {
			return RecordView{}, err
		}
		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = m.Key().String()
		}
		v.Associations[a.Name] = map[string]any{"keys": keys, "loaded": true}
	}
	return v, nil
}

// fail reports a session error together with the record it names and the
// round trips made so far.
func (w *workspace) fail(formatter *OutputFormatter, err error) error {
	report := w.report()
	details := OpErrorDetails{
		Reason: string(session.AccessReasonOf(err)),
		Fetch:  &report,
	}
	var serr *session.Error
	if errors.As(err, &serr) && !serr.Key.IsZero() {
		details.Key = serr.Key.String()
	}
	return reportOpError(formatter, err, details)
}

func (w *workspace) report() FetchReport {
	trace := w.trace
	if trace == nil {
		trace = []session.Event{}
	}
	return FetchReport{Trace: trace, Stats: w.session.Stats()}
}

// printRecord writes one record view as text.
func printRecord(out io.Writer, v RecordView) {
	fmt.Fprintln(out, v.Key)
	for _, name := range slices.Sorted(maps.Keys(v.Fields)) {
		fmt.Fprintf(out, "  %s: %s\n", name, formatAny(v.Fields[name]))
	}
	for _, name := range slices.Sorted(maps.Keys(v.Associations)) {
		fmt.Fprintf(out, "  %s → %s\n", name, formatAssociation(v.Associations[name]))
	}
}

// printReport writes the round trips and counters, so N+1 loading shows
// up as one fetch_key line per owner.
func printReport(out io.Writer, r FetchReport) {
	fmt.Fprintf(out, "\nRound trips: %d\n", len(r.Trace))
	for _, ev := range r.Trace {
		target := ev.Key
		if target == "" {
			target = ev.Query
		}
		fmt.Fprintf(out, "  [%d] %s %s (%d rows)\n", ev.Seq, ev.Kind, target, ev.Rows)
	}
	fmt.Fprintf(out, "Fetches: %d (key %d, query %d), proxies initialized: %d, entities loaded: %d\n",
		r.Stats.Fetches(), r.Stats.KeyFetches, r.Stats.QueryFetches,
		r.Stats.ProxyInitializations, r.Stats.EntitiesLoaded)
}

func formatAny(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func formatAssociation(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return "null"
	}
	state := "not loaded"
	if loaded, _ := m["loaded"].(bool); loaded {
		state = "loaded"
	}
	if key, ok := m["key"].(string); ok {
		return fmt.Sprintf("%s (%s)", key, state)
	}
	if keys, ok := m["keys"].([]string); ok {
		return fmt.Sprintf("%v (%s)", keys, state)
	}
	return state
}
