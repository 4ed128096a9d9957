package session

import (
	"context"
	"slices"

	"github.com/roach88/pcx/internal/ir"
)

// Entity is the handle for one record within one session.
//
// It is a tagged variant: uninitialized (key only) or initialized (fields
// and association edges loaded). Initialization is one-way and happens in
// place, so every holder of the pointer observes it.
//
// Association edges are stored as RecordKeys and resolved through the
// owning session's identity map; entities never point at each other.
type Entity struct {
	key      ir.RecordKey
	et       *ir.EntityType
	registry *registry
	session  string
	proxy    bool

	initialized bool
	fields      ir.IRObject
	links       map[string]ir.RecordKey
	collections map[string]*collection

	// snapshot is the hash of the last state read from or written to the
	// store; empty for a pending insert.
	snapshot string
	removed  bool
}

// collection is a TO_MANY edge set.
type collection struct {
	loaded bool
	keys   []ir.RecordKey
}

func (c *collection) add(k ir.RecordKey) {
	if !slices.Contains(c.keys, k) {
		c.keys = append(c.keys, k)
	}
}

func (c *collection) remove(k ir.RecordKey) {
	c.keys = slices.DeleteFunc(c.keys, func(x ir.RecordKey) bool { return x == k })
}

func newEntity(key ir.RecordKey, et *ir.EntityType, s *Session) *Entity {
	e := &Entity{
		key:         key,
		et:          et,
		registry:    s.factory.registry,
		session:     s.id,
		links:       map[string]ir.RecordKey{},
		collections: map[string]*collection{},
	}
	for _, a := range et.Associations {
		if a.Cardinality == ir.ToMany {
			e.collections[a.Name] = &collection{}
		}
	}
	return e
}

// Key returns the record key. Never triggers a fetch.
func (e *Entity) Key() ir.RecordKey {
	return e.key
}

// TypeID returns the entity type name.
func (e *Entity) TypeID() string {
	return e.key.TypeID
}

// ID returns the primary-key value. Never triggers a fetch.
func (e *Entity) ID() ir.IRValue {
	return e.key.PrimaryKey()
}

// IsProxy reports whether the entity was created as a lazy reference.
// It stays true after initialization: the reference is never replaced.
func (e *Entity) IsProxy() bool {
	return e.proxy
}

// IsInitialized reports whether the fields are loaded.
func (e *Entity) IsInitialized() bool {
	return e.initialized
}

// Get returns one field. Reading the id field never fetches; any other
// field initializes an uninitialized entity first.
func (e *Entity) Get(ctx context.Context, name string) (ir.IRValue, error) {
	if name == e.et.IDField {
		return e.ID(), nil
	}
	if _, ok := e.et.Field(name); !ok {
		return nil, newError(ErrCodeUnknownField, e.key, "%s has no field %q", e.et.Name, name)
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	v, ok := e.fields[name]
	if !ok {
		return ir.IRNull{}, nil
	}
	return v, nil
}

// Fields returns a copy of all fields, including the id field.
func (e *Entity) Fields(ctx context.Context) (ir.IRObject, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := e.fields.Clone()
	out[e.et.IDField] = e.ID()
	return out, nil
}

// Set assigns one field. Changes are written at the next flush.
func (e *Entity) Set(ctx context.Context, name string, v ir.IRValue) error {
	if name == e.et.IDField {
		return newError(ErrCodeInvalidValue, e.key, "the id field of %s is immutable", e.et.Name)
	}
	if err := checkField(e.et, name, v); err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	e.fields[name] = v
	return nil
}

// Ref resolves a TO_ONE association. A null association returns nil.
//
// A lazy target comes back as an uninitialized reference; an eager or
// join-fetched target is already initialized. Traversal needs the owner to
// be attached to an open session.
func (e *Entity) Ref(ctx context.Context, name string) (*Entity, error) {
	assoc, err := e.association(name, ir.ToOne)
	if err != nil {
		return nil, err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s, err := e.attached()
	if err != nil {
		return nil, err
	}
	target := e.links[assoc.Name]
	if target.IsZero() {
		return nil, nil
	}
	return s.resolveReference(target)
}

// Collection resolves a TO_MANY association, fetching it on first access.
func (e *Entity) Collection(ctx context.Context, name string) ([]*Entity, error) {
	assoc, err := e.association(name, ir.ToMany)
	if err != nil {
		return nil, err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s, err := e.attached()
	if err != nil {
		return nil, err
	}
	coll := e.collections[assoc.Name]
	if !coll.loaded {
		if err := s.loadCollection(ctx, e, assoc); err != nil {
			return nil, err
		}
	}

	out := make([]*Entity, 0, len(coll.keys))
	for _, k := range coll.keys {
		member, err := s.resolveReference(k)
		if err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, nil
}

// Link points a TO_ONE association at target, or clears it when target is nil.
// Loaded inverse collections in the owning session are kept in step.
func (e *Entity) Link(ctx context.Context, name string, target *Entity) error {
	assoc, err := e.association(name, ir.ToOne)
	if err != nil {
		return err
	}
	if target != nil && target.TypeID() != assoc.Target {
		return newError(ErrCodeInvalidValue, e.key, "%s.%s expects %s, got %s", e.et.Name, name, assoc.Target, target.key)
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}

	old := e.links[assoc.Name]
	next := ir.RecordKey{}
	if target != nil {
		next = target.key
	}
	e.links[assoc.Name] = next

	if s, err := e.attached(); err == nil {
		s.syncInverse(e, assoc, old, next)
	}
	return nil
}

func (e *Entity) association(name string, card ir.Cardinality) (*ir.Association, error) {
	assoc, ok := e.et.Association(name)
	if !ok || assoc.Cardinality != card {
		return nil, newError(ErrCodeUnknownAssociation, e.key, "%s has no %s association %q", e.et.Name, card, name)
	}
	return assoc, nil
}

// ensureLoaded initializes the entity through its session if needed.
func (e *Entity) ensureLoaded(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	return ProxyFactory{registry: e.registry}.Initialize(ctx, e)
}

// attached returns the owning session if it is open and still maps this
// entity's key to this entity.
func (e *Entity) attached() (*Session, error) {
	s, ok := e.registry.lookup(e.session)
	if !ok || s.state == StateClosed {
		return nil, NewInvalidReferenceAccessError(e.key, ReasonClosed)
	}
	if cur, ok := s.identity.Get(e.key); !ok || cur != e {
		return nil, NewInvalidReferenceAccessError(e.key, ReasonDetached)
	}
	return s, nil
}

// populate fills the entity from a row in place and marks it initialized.
func (e *Entity) populate(row ir.Row) error {
	fields := row.Fields.Clone()
	if fields == nil {
		fields = ir.IRObject{}
	}
	links := make(map[string]ir.RecordKey, len(row.Links))
	for _, a := range e.et.Associations {
		if a.Cardinality == ir.ToOne {
			links[a.Name] = row.Links[a.Name].Key
		}
	}
	snap, err := ir.SnapshotHash(fields, links)
	if err != nil {
		return err
	}

	e.fields = fields
	e.links = links
	e.snapshot = snap
	e.initialized = true
	return nil
}

// state returns the current row image for writing.
func (e *Entity) state() ir.Row {
	links := make(map[string]ir.Link, len(e.links))
	for name, k := range e.links {
		links[name] = ir.Link{Key: k}
	}
	return ir.Row{Key: e.key, Fields: e.fields.Clone(), Links: links}
}

// dirty reports whether the in-memory state differs from the snapshot.
func (e *Entity) dirty() (bool, error) {
	if !e.initialized {
		return false, nil
	}
	h, err := ir.SnapshotHash(e.fields, e.links)
	if err != nil {
		return false, err
	}
	return h != e.snapshot, nil
}

func (e *Entity) String() string {
	if e.initialized {
		return e.key.String()
	}
	return e.key.String() + "(uninitialized)"
}
