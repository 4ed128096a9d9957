package session

import (
	"log/slog"
	"sync"

	"github.com/roach88/pcx/internal/fetchplan"
	"github.com/roach88/pcx/internal/identity"
	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/store"
)

// Factory creates sessions over one store and schema.
//
// The factory owns the session registry that entities use to find their
// session. It holds no records itself; every session has its own identity
// map.
//
// Thread-safety: Open and the registry are safe for concurrent use.
type Factory struct {
	backend  store.Backend
	schema   *ir.Schema
	planner  *fetchplan.Planner
	logger   *slog.Logger
	ids      IDGenerator
	clock    Sequencer
	observer Observer
	registry *registry

	batchSize int
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBatchSize enables batched loading of EAGER associations for query
// results, n owners per round trip. Default: 0 (one fetch per owner).
func WithBatchSize(n int) Option {
	return func(f *Factory) {
		f.batchSize = n
	}
}

// WithIDGenerator sets the session id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(f *Factory) {
		if g != nil {
			f.ids = g
		}
	}
}

// WithObserver registers a callback for every store round trip.
func WithObserver(o Observer) Option {
	return func(f *Factory) {
		f.observer = o
	}
}

// WithClock sets the sequencer stamping observer events. Default: NewClock().
func WithClock(c Sequencer) Option {
	return func(f *Factory) {
		if c != nil {
			f.clock = c
		}
	}
}

// NewFactory creates a factory. The store handle is explicit: there is no
// process-wide default.
func NewFactory(backend store.Backend, schema *ir.Schema, opts ...Option) *Factory {
	f := &Factory{
		backend:  backend,
		schema:   schema,
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		registry: newRegistry(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.planner = fetchplan.New(fetchplan.WithBatchSize(f.batchSize))
	return f
}

// Schema returns the mapping the factory was created with.
func (f *Factory) Schema() *ir.Schema {
	return f.schema
}

// Planner returns the fetch planner shared by all sessions.
func (f *Factory) Planner() *fetchplan.Planner {
	return f.planner
}

// Open starts a new ACTIVE session.
func (f *Factory) Open() *Session {
	s := &Session{
		id:       f.ids.Generate(),
		factory:  f,
		state:    StateActive,
		identity: identity.New[*Entity](),
	}
	s.logger = f.logger.With("session", s.id)
	f.registry.add(s)
	s.logger.Info("session opened")
	return s
}

// OpenSessions returns the number of sessions not yet closed.
func (f *Factory) OpenSessions() int {
	return f.registry.len()
}

// registry maps session ids to open sessions.
//
// Entities hold a registry pointer and a session id rather than a session
// pointer, so a closed session is unreachable from its entities.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
