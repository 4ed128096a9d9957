package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/pcx/internal/fetchplan"
	"github.com/roach88/pcx/internal/identity"
	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
	"github.com/roach88/pcx/internal/store"
)

// State is a session lifecycle state.
type State string

const (
	// StateActive has an open unit of work.
	StateActive State = "ACTIVE"
	// StateCleared has an empty identity map; the session is still usable
	// and returns to ACTIVE on its next operation.
	StateCleared State = "CLEARED"
	// StateClosed is terminal.
	StateClosed State = "CLOSED"
)

// Session is one unit of work: a persistence context with its own
// identity map.
//
// Thread-safety: a Session must be used from one goroutine at a time.
type Session struct {
	id       string
	factory  *Factory
	logger   *slog.Logger
	state    State
	identity *identity.Map[*Entity]
	tx       store.TxBackend

	inserts  []*Entity // pending inserts of assigned-id entities
	removals []*Entity
	stats    Stats
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Stats returns a copy of the session counters. The counters survive Close.
func (s *Session) Stats() Stats {
	return s.stats
}

// ResetStats zeroes the session counters.
func (s *Session) ResetStats() {
	s.stats = Stats{}
}

// use guards every operation: closed sessions fail, cleared sessions
// resume.
func (s *Session) use(op string) error {
	switch s.state {
	case StateClosed:
		return NewSessionClosedError(op)
	case StateCleared:
		s.state = StateActive
	}
	return nil
}

func (s *Session) backend() store.Backend {
	if s.tx != nil {
		return s.tx
	}
	return s.factory.backend
}

func (s *Session) entityType(typeID string) (*ir.EntityType, error) {
	et, ok := s.factory.schema.Entity(typeID)
	if !ok {
		return nil, newError(ErrCodeUnknownType, ir.RecordKey{}, "unknown entity type %q", typeID)
	}
	return et, nil
}

func (s *Session) key(typeID string, pk ir.IRValue) (ir.RecordKey, *ir.EntityType, error) {
	et, err := s.entityType(typeID)
	if err != nil {
		return ir.RecordKey{}, nil, err
	}
	k, err := ir.NewRecordKey(typeID, pk)
	if err != nil {
		return ir.RecordKey{}, nil, newError(ErrCodeInvalidValue, ir.RecordKey{}, "%v", err)
	}
	return k, et, nil
}

// FindByKey returns the initialized instance for (typeID, pk).
//
// An identity-map hit returns the cached instance without a fetch,
// initializing it first if it is still an uninitialized reference. A miss
// fetches the row, registers a new instance and applies the fetch plan to
// its associations.
func (s *Session) FindByKey(ctx context.Context, typeID string, pk ir.IRValue) (*Entity, error) {
	if err := s.use("find"); err != nil {
		return nil, err
	}
	key, et, err := s.key(typeID, pk)
	if err != nil {
		return nil, err
	}

	if e, ok := s.identity.Get(key); ok {
		if e.removed {
			return nil, NewRecordNotFoundError(key, errors.New("removed in this session"))
		}
		if err := s.initialize(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	}

	row, err := s.fetchByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	pass := s.newLoadPass()
	e, err := pass.materialize(et, row, fetchplan.QueryContext{})
	if err == nil {
		err = pass.run(ctx)
	}
	if err := pass.finish(err); err != nil {
		return nil, err
	}
	return e, nil
}

// GetReference returns the handle for (typeID, pk) without fetching.
//
// An identity-map hit returns the cached instance as-is, initialized or
// not. A miss registers and returns a new uninitialized reference.
func (s *Session) GetReference(typeID string, pk ir.IRValue) (*Entity, error) {
	if err := s.use("get reference"); err != nil {
		return nil, err
	}
	key, _, err := s.key(typeID, pk)
	if err != nil {
		return nil, err
	}
	return s.resolveReference(key)
}

// resolveReference returns the managed instance for key, installing an
// uninitialized reference on a miss.
func (s *Session) resolveReference(key ir.RecordKey) (*Entity, error) {
	if e, ok := s.identity.Get(key); ok {
		return e, nil
	}
	et, err := s.entityType(key.TypeID)
	if err != nil {
		return nil, err
	}
	ref := ProxyFactory{registry: s.factory.registry}.CreateProxy(key, et, s)
	if err := s.register(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// ExecuteQuery runs a query plan and returns one handle per result row.
//
// Each row resolves through the identity map, so repeated records come back
// as the same pointer. A join-fetched TO_MANY yields one entry per
// associated record unless the plan sets Distinct.
func (s *Session) ExecuteQuery(ctx context.Context, q queryir.Select, bound ir.IRObject) ([]*Entity, error) {
	if err := s.use("query"); err != nil {
		return nil, err
	}
	res := queryir.Validate(s.factory.schema, q)
	if !res.OK() {
		return nil, &Error{Code: ErrCodeInvalidQuery, Message: q.String(), Err: res.Err()}
	}
	for _, w := range res.Warnings {
		s.logger.Warn("query warning", "query", q.String(), "warning", w)
	}
	et, err := s.entityType(q.From)
	if err != nil {
		return nil, err
	}

	rows, err := s.fetchByQuery(ctx, q, bound)
	if err != nil {
		return nil, err
	}

	qc := fetchplan.QueryContext{JoinFetch: q.FetchNames(), MultiRow: true, Distinct: q.Distinct}
	pass := s.newLoadPass()
	result := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := pass.materialize(et, row, qc)
		if err != nil {
			return nil, pass.finish(err)
		}
		if q.Distinct && slices.Contains(result, e) {
			continue
		}
		result = append(result, e)
	}
	if err := pass.finish(pass.run(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// initialize loads an uninitialized instance in place. It either fully
// populates e, including its EAGER associations, or leaves it uninitialized.
func (s *Session) initialize(ctx context.Context, e *Entity) error {
	if e.initialized {
		return nil
	}
	row, err := s.fetchByKey(ctx, e.key)
	if err != nil {
		return err
	}

	pass := s.newLoadPass()
	_, err = pass.materialize(e.et, row, fetchplan.QueryContext{})
	if err == nil {
		if e.proxy {
			pass.proxyInits++
		}
		// Contract: an initialized reference is always registered.
		err = s.register(e)
	}
	if err == nil {
		err = pass.run(ctx)
	}
	return pass.finish(err)
}

func (s *Session) register(e *Entity) error {
	if err := s.identity.Put(e.key, e); err != nil {
		s.logger.Error("identity conflict", "key", e.key.String(), "error", err)
		return NewIdentityConflictError(e.key, err)
	}
	return nil
}

func (s *Session) fetchByKey(ctx context.Context, key ir.RecordKey) (ir.Row, error) {
	row, err := s.backend().FetchByKey(ctx, key)
	found := 1
	if err != nil {
		found = 0
	}
	s.record(EventFetchKey, key.String(), "", found)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Row{}, NewRecordNotFoundError(key, err)
	}
	if err != nil {
		return ir.Row{}, err
	}
	return row, nil
}

func (s *Session) fetchByQuery(ctx context.Context, q queryir.Select, bound ir.IRObject) ([]ir.Row, error) {
	rows, err := s.backend().FetchByQuery(ctx, q, bound)
	s.record(EventFetchQuery, "", q.String(), len(rows))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Detach removes exactly one instance from the identity map. Pending
// writes for it are discarded. Other managed instances are untouched.
func (s *Session) Detach(e *Entity) error {
	if err := s.use("detach"); err != nil {
		return err
	}
	if cur, ok := s.identity.Get(e.key); !ok || cur != e {
		return newError(ErrCodeNotManaged, e.key, "entity is not managed by this session")
	}
	s.identity.Remove(e.key)
	s.inserts = slices.DeleteFunc(s.inserts, func(x *Entity) bool { return x == e })
	s.removals = slices.DeleteFunc(s.removals, func(x *Entity) bool { return x == e })
	s.logger.Debug("entity detached", "key", e.key.String())
	return nil
}

// Clear detaches every instance and discards pending writes. The session
// stays usable.
func (s *Session) Clear() error {
	if err := s.use("clear"); err != nil {
		return err
	}
	dropped := s.identity.Clear()
	s.inserts = nil
	s.removals = nil
	s.state = StateCleared
	s.logger.Info("session cleared", "detached", len(dropped))
	return nil
}

// Close ends the session. Every reference it handed out becomes
// permanently unloadable. An open transaction is rolled back.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return NewSessionClosedError("close")
	}
	var txErr error
	if s.tx != nil {
		txErr = s.tx.Rollback()
		s.tx = nil
	}
	s.identity.Clear()
	s.inserts = nil
	s.removals = nil
	s.state = StateClosed
	s.factory.registry.remove(s.id)
	s.logger.Info("session closed",
		"key_fetches", s.stats.KeyFetches,
		"query_fetches", s.stats.QueryFetches)
	return txErr
}

// Contains reports whether e is managed by this session.
func (s *Session) Contains(e *Entity) bool {
	if s.state == StateClosed || e == nil {
		return false
	}
	cur, ok := s.identity.Get(e.key)
	return ok && cur == e && !e.removed
}

// IsLoaded reports whether e's fields are loaded. Like Stats and State it
// stays readable after Close, so a caller can inspect what a closed session
// left behind.
func (s *Session) IsLoaded(e *Entity) bool {
	return e != nil && e.initialized
}

// IsAssociationLoaded reports whether reading the association would need
// no fetch. An uninitialized owner reports false. It fails once the session
// is closed, since the answer depends on the identity map.
func (s *Session) IsAssociationLoaded(e *Entity, name string) (bool, error) {
	if s.state == StateClosed {
		return false, NewSessionClosedError("is_association_loaded")
	}
	assoc, ok := e.et.Association(name)
	if !ok {
		return false, newError(ErrCodeUnknownAssociation, e.key, "%s has no association %q", e.et.Name, name)
	}
	if !e.initialized {
		return false, nil
	}
	if assoc.Cardinality == ir.ToMany {
		return e.collections[name].loaded, nil
	}
	target := e.links[name]
	if target.IsZero() {
		return true, nil
	}
	t, ok := s.identity.Get(target)
	return ok && t.initialized, nil
}

// Managed returns the keys of all managed instances in key order. A closed
// session manages nothing and returns nil.
func (s *Session) Managed() []ir.RecordKey {
	if s.state == StateClosed {
		return nil
	}
	return s.identity.Keys()
}
