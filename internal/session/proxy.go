package session

import (
	"context"

	"github.com/roach88/pcx/internal/ir"
)

// ProxyFactory creates and initializes lazy references.
//
// It reaches sessions only through the registry, so a reference whose
// session has closed fails with INVALID_REFERENCE_ACCESS instead of
// keeping the session alive.
type ProxyFactory struct {
	registry *registry
}

// CreateProxy returns an uninitialized reference for key owned by s.
// The reference carries no field data and issues no fetch.
func (p ProxyFactory) CreateProxy(key ir.RecordKey, et *ir.EntityType, s *Session) *Entity {
	e := newEntity(key, et, s)
	e.registry = p.registry
	e.proxy = true
	return e
}

// Initialize loads ref in place.
//
// Already-initialized references are a no-op. Otherwise the owning session
// must be open and still hold ref in its identity map. On any failure ref
// is left exactly as it was.
func (p ProxyFactory) Initialize(ctx context.Context, ref *Entity) error {
	if ref.initialized {
		return nil
	}

	s, ok := p.registry.lookup(ref.session)
	if !ok || s.state == StateClosed {
		return NewInvalidReferenceAccessError(ref.key, ReasonClosed)
	}
	if cur, ok := s.identity.Get(ref.key); !ok || cur != ref {
		return NewInvalidReferenceAccessError(ref.key, ReasonDetached)
	}

	return s.initialize(ctx, ref)
}
