package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/store"
)

// Persist makes a new instance managed and initialized.
//
// Types with identity ids are inserted immediately so the id is known on
// return. Types with assigned ids take the id from fields and are inserted
// at the next flush. links sets TO_ONE associations; every target must be
// managed by this session.
func (s *Session) Persist(ctx context.Context, typeID string, fields ir.IRObject, links map[string]*Entity) (*Entity, error) {
	if err := s.use("persist"); err != nil {
		return nil, err
	}
	et, err := s.entityType(typeID)
	if err != nil {
		return nil, err
	}
	if err := checkFields(et, fields); err != nil {
		return nil, err
	}

	edges := make(map[string]ir.RecordKey, len(links))
	for name, target := range links {
		assoc, ok := et.Association(name)
		if !ok || assoc.Cardinality != ir.ToOne {
			return nil, newError(ErrCodeUnknownAssociation, ir.RecordKey{}, "%s has no to_one association %q", et.Name, name)
		}
		if target == nil {
			continue
		}
		if target.TypeID() != assoc.Target {
			return nil, newError(ErrCodeInvalidValue, target.key, "%s.%s expects %s", et.Name, name, assoc.Target)
		}
		if !s.Contains(target) {
			return nil, newError(ErrCodeNotManaged, target.key, "link target %s is not managed by this session", target.key)
		}
		edges[name] = target.key
	}

	plain := fields.Clone()
	if plain == nil {
		plain = ir.IRObject{}
	}
	idValue, hasID := plain[et.IDField]
	delete(plain, et.IDField)

	e := &Entity{et: et, registry: s.factory.registry, session: s.id}
	e.fields = plain
	e.links = map[string]ir.RecordKey{}
	e.collections = map[string]*collection{}
	for _, a := range et.Associations {
		switch a.Cardinality {
		case ir.ToOne:
			e.links[a.Name] = edges[a.Name]
		case ir.ToMany:
			e.collections[a.Name] = &collection{loaded: true}
		}
	}
	e.initialized = true

	switch et.IDStrategy {
	case ir.IDAssigned:
		if !hasID {
			return nil, newError(ErrCodeInvalidValue, ir.RecordKey{}, "%s requires an assigned %s", et.Name, et.IDField)
		}
		key, err := ir.NewRecordKey(et.Name, idValue)
		if err != nil {
			return nil, newError(ErrCodeInvalidValue, ir.RecordKey{}, "%v", err)
		}
		if _, ok := s.identity.Get(key); ok {
			return nil, newError(ErrCodeEntityExists, key, "%s is already managed", key)
		}
		e.key = key
		if err := s.register(e); err != nil {
			return nil, err
		}
		s.inserts = append(s.inserts, e)

	default:
		if hasID {
			return nil, newError(ErrCodeInvalidValue, ir.RecordKey{}, "%s ids are generated; do not supply %s", et.Name, et.IDField)
		}
		e.key = ir.RecordKey{TypeID: et.Name}
		key, err := s.backend().Insert(ctx, e.state())
		if err != nil {
			return nil, fmt.Errorf("persist %s: %w", et.Name, err)
		}
		e.key = key
		s.record(EventInsert, key.String(), "", 1)
		if err := e.refreshSnapshot(); err != nil {
			return nil, err
		}
		if err := s.register(e); err != nil {
			return nil, err
		}
	}

	for i := range et.Associations {
		assoc := &et.Associations[i]
		if next := e.links[assoc.Name]; assoc.Cardinality == ir.ToOne && !next.IsZero() {
			s.syncInverse(e, assoc, ir.RecordKey{}, next)
		}
	}
	s.logger.Debug("entity persisted", "key", e.key.String())
	return e, nil
}

// Remove marks a managed instance for deletion at the next flush. A
// pending insert is simply dropped.
func (s *Session) Remove(ctx context.Context, e *Entity) error {
	if err := s.use("remove"); err != nil {
		return err
	}
	if !s.Contains(e) {
		return newError(ErrCodeNotManaged, e.key, "entity is not managed by this session")
	}
	if err := s.initialize(ctx, e); err != nil {
		return err
	}

	for i := range e.et.Associations {
		assoc := &e.et.Associations[i]
		if old := e.links[assoc.Name]; assoc.Cardinality == ir.ToOne && !old.IsZero() {
			s.syncInverse(e, assoc, old, ir.RecordKey{})
		}
	}

	for i, pending := range s.inserts {
		if pending == e {
			s.inserts = append(s.inserts[:i], s.inserts[i+1:]...)
			s.identity.Remove(e.key)
			return nil
		}
	}
	e.removed = true
	s.removals = append(s.removals, e)
	return nil
}

// Flush writes pending work: queued inserts, then updates for dirty
// instances in key order, then deletes. Snapshots are refreshed as rows
// are written.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.use("flush"); err != nil {
		return err
	}
	var inserted, updated, deleted int

	for len(s.inserts) > 0 {
		e := s.inserts[0]
		if _, err := s.backend().Insert(ctx, e.state()); err != nil {
			return fmt.Errorf("flush insert %s: %w", e.key, err)
		}
		s.record(EventInsert, e.key.String(), "", 1)
		if err := e.refreshSnapshot(); err != nil {
			return err
		}
		s.inserts = s.inserts[1:]
		inserted++
	}

	for _, k := range s.identity.Keys() {
		e, _ := s.identity.Get(k)
		if e.removed || e.snapshot == "" {
			continue
		}
		dirty, err := e.dirty()
		if err != nil {
			return err
		}
		if !dirty {
			continue
		}
		if err := s.backend().Update(ctx, e.state()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewRecordNotFoundError(e.key, err)
			}
			return fmt.Errorf("flush update %s: %w", e.key, err)
		}
		s.record(EventUpdate, e.key.String(), "", 1)
		if err := e.refreshSnapshot(); err != nil {
			return err
		}
		updated++
	}

	for len(s.removals) > 0 {
		e := s.removals[0]
		if err := s.backend().Delete(ctx, e.key); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewRecordNotFoundError(e.key, err)
			}
			return fmt.Errorf("flush delete %s: %w", e.key, err)
		}
		s.record(EventDelete, e.key.String(), "", 1)
		s.identity.Remove(e.key)
		s.removals = s.removals[1:]
		deleted++
	}

	s.logger.Info("session flushed", "inserts", inserted, "updates", updated, "deletes", deleted)
	return nil
}

// Begin opens a store transaction. Later reads and writes go through it
// until Commit or Rollback.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.use("begin"); err != nil {
		return err
	}
	if s.tx != nil {
		return newError(ErrCodeTransactionActive, ir.RecordKey{}, "a transaction is already open")
	}
	t, ok := s.factory.backend.(store.Transactional)
	if !ok {
		return newError(ErrCodeNoTransaction, ir.RecordKey{}, "store does not support transactions")
	}
	tx, err := t.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit flushes pending work and commits the transaction. A failed flush
// leaves the transaction open.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.use("commit"); err != nil {
		return err
	}
	if s.tx == nil {
		return newError(ErrCodeNoTransaction, ir.RecordKey{}, "no open transaction")
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback abandons the transaction and clears the session, since managed
// state may reflect writes that no longer exist.
func (s *Session) Rollback() error {
	if err := s.use("rollback"); err != nil {
		return err
	}
	if s.tx == nil {
		return newError(ErrCodeNoTransaction, ir.RecordKey{}, "no open transaction")
	}
	tx := s.tx
	s.tx = nil
	err := tx.Rollback()
	if clearErr := s.Clear(); clearErr != nil && err == nil {
		err = clearErr
	}
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// refreshSnapshot records the current state as the last written state.
func (e *Entity) refreshSnapshot() error {
	h, err := ir.SnapshotHash(e.fields, e.links)
	if err != nil {
		return err
	}
	e.snapshot = h
	return nil
}
