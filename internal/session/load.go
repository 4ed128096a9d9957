package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/pcx/internal/fetchplan"
	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
)

// loadPass materializes rows and carries out the fetch plan for every
// association it meets. EAGER loads are queued and run in order after the
// rows that triggered them, so a query over N owners shows its N follow-up
// fetches after the owner query.
//
// A pass is all or nothing. It journals every instance it changes and every
// key it registers; finish either keeps the result or puts the session back
// exactly as the pass found it.
type loadPass struct {
	s       *Session
	eager   []eagerLoad
	batches []*batchGroup
	byAssoc map[*ir.Association]*batchGroup
	joined  map[joinKey]bool

	saved      map[*Entity]entityState
	registered []*Entity
	loaded     int // instances populated from a row
	proxyInits int
}

// entityState is the part of an Entity a load pass may change.
type entityState struct {
	initialized bool
	fields      ir.IRObject
	links       map[string]ir.RecordKey
	snapshot    string
	collections map[string]collection
}

type eagerLoad struct {
	owner *Entity
	assoc *ir.Association
}

type batchGroup struct {
	assoc  *ir.Association
	owners []*Entity
}

type joinKey struct {
	owner ir.RecordKey
	assoc string
}

func (s *Session) newLoadPass() *loadPass {
	return &loadPass{
		s:       s,
		byAssoc: map[*ir.Association]*batchGroup{},
		joined:  map[joinKey]bool{},
		saved:   map[*Entity]entityState{},
	}
}

// save records e's state the first time the pass is about to change it.
// populate swaps in fresh field and link maps, so the old ones are kept
// by reference; collection keys are copied.
func (p *loadPass) save(e *Entity) {
	if _, ok := p.saved[e]; ok {
		return
	}
	st := entityState{
		initialized: e.initialized,
		fields:      e.fields,
		links:       e.links,
		snapshot:    e.snapshot,
		collections: make(map[string]collection, len(e.collections)),
	}
	for name, c := range e.collections {
		st.collections[name] = collection{loaded: c.loaded, keys: slices.Clone(c.keys)}
	}
	p.saved[e] = st
}

// register adds a new instance to the identity map and journals the key.
func (p *loadPass) register(e *Entity) error {
	if err := p.s.register(e); err != nil {
		return err
	}
	p.registered = append(p.registered, e)
	return nil
}

// reference resolves key to its managed instance, journaling the lazy
// reference installed on a miss.
func (p *loadPass) reference(key ir.RecordKey) error {
	if _, ok := p.s.identity.Get(key); ok {
		return nil
	}
	ref, err := p.s.resolveReference(key)
	if err != nil {
		return err
	}
	p.registered = append(p.registered, ref)
	return nil
}

// finish ends the pass. On success its counters are added to the session
// stats. On failure every journaled instance gets its prior state back and
// every key the pass registered is dropped, so a retry starts from the
// same place.
func (p *loadPass) finish(err error) error {
	if err == nil {
		p.s.stats.EntitiesLoaded += p.loaded
		p.s.stats.ProxyInitializations += p.proxyInits
		return nil
	}

	for i := len(p.registered) - 1; i >= 0; i-- {
		e := p.registered[i]
		if cur, ok := p.s.identity.Get(e.key); ok && cur == e {
			p.s.identity.Remove(e.key)
		}
	}
	for e, st := range p.saved {
		e.initialized = st.initialized
		e.fields = st.fields
		e.links = st.links
		e.snapshot = st.snapshot
		for name, c := range st.collections {
			*e.collections[name] = c
		}
	}
	p.s.logger.Debug("load rolled back",
		"registered", len(p.registered), "restored", len(p.saved), "error", err)
	return err
}

// materialize resolves row through the identity map and plans its
// associations.
//
// An initialized hit keeps its in-memory state; an uninitialized hit is
// populated in place; a miss registers a new instance.
func (p *loadPass) materialize(et *ir.EntityType, row ir.Row, qc fetchplan.QueryContext) (*Entity, error) {
	s := p.s
	e, hit := s.identity.Get(row.Key)
	fresh := false
	switch {
	case hit && e.initialized:
	case hit:
		p.save(e)
		if err := e.populate(row); err != nil {
			return nil, fmt.Errorf("populate %s: %w", row.Key, err)
		}
		fresh = true
	default:
		e = newEntity(row.Key, et, s)
		if err := e.populate(row); err != nil {
			return nil, fmt.Errorf("populate %s: %w", row.Key, err)
		}
		if err := p.register(e); err != nil {
			return nil, err
		}
		fresh = true
	}
	if fresh {
		p.loaded++
	}

	for i := range et.Associations {
		assoc := &et.Associations[i]
		plan := s.factory.planner.Plan(assoc, qc)

		switch plan.Decision {
		case fetchplan.Inline:
			if plan.Source == fetchplan.FromRow {
				if err := p.inline(e, assoc, row.Links[assoc.Name], qc); err != nil {
					return nil, err
				}
			} else if fresh {
				p.eager = append(p.eager, eagerLoad{owner: e, assoc: assoc})
			}

		case fetchplan.Batch:
			if fresh {
				g, ok := p.byAssoc[assoc]
				if !ok {
					g = &batchGroup{assoc: assoc}
					p.byAssoc[assoc] = g
					p.batches = append(p.batches, g)
				}
				g.owners = append(g.owners, e)
			}

		case fetchplan.Proxy:
			if fresh && assoc.Cardinality == ir.ToOne {
				if target := e.links[assoc.Name]; !target.IsZero() {
					if err := p.reference(target); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return e, nil
}

// inline materializes a join-fetched row. For TO_MANY the first row seen
// for an owner in this pass resets its collection; a collection that was
// already loaded keeps its contents.
func (p *loadPass) inline(owner *Entity, assoc *ir.Association, link ir.Link, qc fetchplan.QueryContext) error {
	if link.Inline == nil {
		return nil
	}
	target, err := p.s.entityType(assoc.Target)
	if err != nil {
		return err
	}
	member, err := p.materialize(target, *link.Inline, fetchplan.QueryContext{MultiRow: qc.MultiRow})
	if err != nil {
		return err
	}
	if assoc.Cardinality != ir.ToMany {
		return nil
	}

	jk := joinKey{owner: owner.key, assoc: assoc.Name}
	accept, seen := p.joined[jk]
	if !seen {
		coll := owner.collections[assoc.Name]
		accept = !coll.loaded
		if accept {
			p.save(owner)
			coll.loaded = true
			coll.keys = nil
		}
		p.joined[jk] = accept
	}
	if accept {
		owner.collections[assoc.Name].add(member.key)
	}
	return nil
}

// run drains queued EAGER and batched loads, including any they enqueue.
func (p *loadPass) run(ctx context.Context) error {
	for len(p.eager) > 0 || len(p.batches) > 0 {
		for len(p.eager) > 0 {
			l := p.eager[0]
			p.eager = p.eager[1:]
			if err := p.loadEager(ctx, l); err != nil {
				return err
			}
		}
		if len(p.batches) > 0 {
			groups := p.batches
			p.batches = nil
			p.byAssoc = map[*ir.Association]*batchGroup{}
			for _, g := range groups {
				if err := p.loadBatch(ctx, g); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// loadEager performs the secondary fetch for one owner.
func (p *loadPass) loadEager(ctx context.Context, l eagerLoad) error {
	if l.assoc.Cardinality == ir.ToMany {
		if l.owner.collections[l.assoc.Name].loaded {
			return nil
		}
		return p.loadCollection(ctx, l.owner, l.assoc)
	}

	target := l.owner.links[l.assoc.Name]
	if target.IsZero() {
		return nil
	}
	return p.loadOne(ctx, target)
}

// loadOne makes sure key is initialized, fetching only on a miss or an
// uninitialized hit.
func (p *loadPass) loadOne(ctx context.Context, key ir.RecordKey) error {
	s := p.s
	existing, hit := s.identity.Get(key)
	if hit && existing.initialized {
		return nil
	}
	et, err := s.entityType(key.TypeID)
	if err != nil {
		return err
	}
	row, err := s.fetchByKey(ctx, key)
	if err != nil {
		return err
	}
	if _, err := p.materialize(et, row, fetchplan.QueryContext{}); err != nil {
		return err
	}
	if hit && existing.proxy {
		p.proxyInits++
	}
	return nil
}

// loadCollection fetches one owner's TO_MANY collection.
//
// Membership follows in-memory state: a managed member whose link was moved
// away is excluded, and a managed member linked to the owner but not yet
// flushed is included.
func (p *loadPass) loadCollection(ctx context.Context, owner *Entity, assoc *ir.Association) error {
	s := p.s
	inv, err := s.factory.schema.Inverse(assoc)
	if err != nil {
		return newError(ErrCodeUnknownAssociation, owner.key, "%v", err)
	}
	target, err := s.entityType(assoc.Target)
	if err != nil {
		return err
	}

	rows, err := s.fetchByQuery(ctx, queryir.Select{
		From:   assoc.Target,
		Filter: queryir.Equals{Field: inv.Column, Value: owner.ID()},
	}, nil)
	if err != nil {
		return err
	}

	p.save(owner)
	coll := owner.collections[assoc.Name]
	coll.loaded = true
	coll.keys = nil
	for _, row := range rows {
		member, err := p.materialize(target, row, fetchplan.QueryContext{MultiRow: true})
		if err != nil {
			return err
		}
		if member.removed || member.links[inv.Name] != owner.key {
			continue
		}
		coll.add(member.key)
	}
	for _, k := range s.identity.Keys() {
		if k.TypeID != target.Name {
			continue
		}
		m, _ := s.identity.Get(k)
		if m.initialized && !m.removed && m.links[inv.Name] == owner.key {
			coll.add(k)
		}
	}
	return nil
}

// loadBatch loads one association for many owners, BatchSize owners (or
// target keys) per round trip.
func (p *loadPass) loadBatch(ctx context.Context, g *batchGroup) error {
	s := p.s
	size := s.factory.planner.BatchSize()
	target, err := s.entityType(g.assoc.Target)
	if err != nil {
		return err
	}

	if g.assoc.Cardinality == ir.ToOne {
		var keys []ir.RecordKey
		seen := map[ir.RecordKey]bool{}
		for _, o := range g.owners {
			k := o.links[g.assoc.Name]
			if k.IsZero() || seen[k] {
				continue
			}
			seen[k] = true
			if e, ok := s.identity.Get(k); ok && e.initialized {
				continue
			}
			keys = append(keys, k)
		}

		for start := 0; start < len(keys); start += size {
			chunk := keys[start:min(start+size, len(keys))]
			pks := make([]ir.IRValue, len(chunk))
			for i, k := range chunk {
				pks[i] = k.PrimaryKey()
			}
			rows, err := s.fetchByQuery(ctx, queryir.Select{
				From:   target.Name,
				Filter: queryir.In{Field: target.IDField, Values: pks},
			}, nil)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if _, err := p.materialize(target, row, fetchplan.QueryContext{MultiRow: true}); err != nil {
					return err
				}
			}
			for _, k := range chunk {
				if e, ok := s.identity.Get(k); !ok || !e.initialized {
					return NewRecordNotFoundError(k, nil)
				}
			}
		}
		return nil
	}

	inv, err := s.factory.schema.Inverse(g.assoc)
	if err != nil {
		return newError(ErrCodeUnknownAssociation, ir.RecordKey{}, "%v", err)
	}
	var owners []*Entity
	for _, o := range g.owners {
		if !o.collections[g.assoc.Name].loaded {
			owners = append(owners, o)
		}
	}
	for start := 0; start < len(owners); start += size {
		chunk := owners[start:min(start+size, len(owners))]
		ids := make([]ir.IRValue, len(chunk))
		byKey := make(map[ir.RecordKey]*Entity, len(chunk))
		for i, o := range chunk {
			ids[i] = o.ID()
			byKey[o.key] = o
			p.save(o)
			coll := o.collections[g.assoc.Name]
			coll.loaded = true
			coll.keys = nil
		}
		rows, err := s.fetchByQuery(ctx, queryir.Select{
			From:   target.Name,
			Filter: queryir.In{Field: inv.Column, Values: ids},
		}, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			member, err := p.materialize(target, row, fetchplan.QueryContext{MultiRow: true})
			if err != nil {
				return err
			}
			if o, ok := byKey[member.links[inv.Name]]; ok && !member.removed {
				o.collections[g.assoc.Name].add(member.key)
			}
		}
	}
	return nil
}

// loadCollection fetches a lazy collection on first access.
func (s *Session) loadCollection(ctx context.Context, owner *Entity, assoc *ir.Association) error {
	p := s.newLoadPass()
	err := p.loadCollection(ctx, owner, assoc)
	if err == nil {
		err = p.run(ctx)
	}
	return p.finish(err)
}

// syncInverse keeps loaded inverse collections in step with a TO_ONE change.
func (s *Session) syncInverse(member *Entity, assoc *ir.Association, old, next ir.RecordKey) {
	if old == next {
		return
	}
	target, ok := s.factory.schema.Entity(assoc.Target)
	if !ok {
		return
	}
	for _, inv := range target.Associations {
		if inv.Cardinality != ir.ToMany || inv.MappedBy != assoc.Name || inv.Target != member.TypeID() {
			continue
		}
		if o, ok := s.identity.Get(old); ok && o.initialized {
			o.collections[inv.Name].remove(member.key)
		}
		if n, ok := s.identity.Get(next); ok && n.initialized && n.collections[inv.Name].loaded {
			n.collections[inv.Name].add(member.key)
		}
	}
}
