package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/pcx/internal/ir"
)

func TestError_Message(t *testing.T) {
	key := ir.MustKey("Team", ir.IRInt(1))

	err := NewInvalidReferenceAccessError(key, ReasonClosed)
	assert.Equal(t,
		"INVALID_REFERENCE_ACCESS: could not initialize reference: no session (key=Team#1) (reason=closed)",
		err.Error())

	cause := errors.New("boom")
	err = NewRecordNotFoundError(key, cause)
	assert.Equal(t, "RECORD_NOT_FOUND: no record for key (key=Team#1): boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_PredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", NewSessionClosedError("find"))

	assert.True(t, IsSessionClosed(wrapped))
	assert.False(t, IsRecordNotFound(wrapped))
	assert.Equal(t, ErrCodeSessionClosed, ErrorCodeOf(wrapped))
	assert.Equal(t, AccessReason(""), AccessReasonOf(wrapped))
	assert.Equal(t, ErrorCode(""), ErrorCodeOf(errors.New("plain")))
}

func TestError_IdentityConflict(t *testing.T) {
	err := NewIdentityConflictError(ir.MustKey("Team", ir.IRInt(1)), errors.New("taken"))
	assert.True(t, IsIdentityConflict(err))
}

func TestProxyFactory_InitializeIsNoOpWhenLoaded(t *testing.T) {
	_, s := open(t, lazySchema)

	team, err := s.FindByKey(t.Context(), "Team", ir.IRInt(1))
	assert.NoError(t, err)
	assert.NoError(t, ProxyFactory{registry: s.factory.registry}.Initialize(t.Context(), team))
	assert.Equal(t, 1, s.Stats().KeyFetches)
}

func TestProxyFactory_CreateProxyCarriesNoData(t *testing.T) {
	_, s := open(t, lazySchema)
	et := s.factory.schema.MustEntity("Team")

	ref := ProxyFactory{registry: s.factory.registry}.CreateProxy(ir.MustKey("Team", ir.IRInt(1)), et, s)
	assert.True(t, ref.IsProxy())
	assert.False(t, ref.IsInitialized())
	assert.Nil(t, ref.fields)
	assert.Equal(t, "Team#1(uninitialized)", ref.String())
	assert.Equal(t, 0, s.Stats().Fetches())
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
