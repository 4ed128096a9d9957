package session

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
	"github.com/roach88/pcx/internal/store"
	"github.com/roach88/pcx/internal/testutil"
)

// teamSchema maps Team 1-* Member with the given fetch strategies, plus an
// assigned-id Tag.
func teamSchema(memberTeam, teamMembers ir.FetchStrategy) *ir.Schema {
	return ir.NewSchema(
		ir.EntityType{
			Name: "Team", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{{Name: "name", Type: ir.FieldString}},
			Associations: []ir.Association{
				{Name: "members", Target: "Member", Cardinality: ir.ToMany, Fetch: teamMembers, MappedBy: "team"},
			},
		},
		ir.EntityType{
			Name: "Member", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{
				{Name: "name", Type: ir.FieldString},
				{Name: "nick", Type: ir.FieldString, Nullable: true},
			},
			Associations: []ir.Association{
				{Name: "team", Target: "Team", Cardinality: ir.ToOne, Fetch: memberTeam, Column: "team_id"},
			},
		},
		ir.EntityType{
			Name: "Tag", IDField: "code", IDStrategy: ir.IDAssigned,
			Fields: []ir.FieldDef{{Name: "label", Type: ir.FieldString}},
		},
	)
}

type fixture struct {
	store   *store.Store
	factory *Factory
	events  []Event
}

func newFixture(t *testing.T, schema *ir.Schema, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(":memory:", schema)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fx := &fixture{store: st}
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(testutil.NewSequenceIDs("s")),
		WithClock(testutil.NewDeterministicClock()),
		WithObserver(func(e Event) { fx.events = append(fx.events, e) }),
	}
	fx.factory = NewFactory(st, schema, append(base, opts...)...)
	return fx
}

// seed persists Team 1 "Red" (members Ann, Bob) and Team 2 "Blue"
// (member Cid) through a throwaway session, then forgets its events.
func (fx *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	s := fx.factory.Open()

	red := fx.persist(t, s, "Team", ir.IRObject{"name": ir.IRString("Red")}, nil)
	blue := fx.persist(t, s, "Team", ir.IRObject{"name": ir.IRString("Blue")}, nil)
	fx.persist(t, s, "Member", ir.IRObject{"name": ir.IRString("Ann")}, map[string]*Entity{"team": red})
	fx.persist(t, s, "Member", ir.IRObject{"name": ir.IRString("Bob")}, map[string]*Entity{"team": red})
	fx.persist(t, s, "Member", ir.IRObject{"name": ir.IRString("Cid")}, map[string]*Entity{"team": blue})

	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())
	fx.events = nil
}

func (fx *fixture) persist(t *testing.T, s *Session, typeID string, fields ir.IRObject, links map[string]*Entity) *Entity {
	t.Helper()
	e, err := s.Persist(context.Background(), typeID, fields, links)
	require.NoError(t, err)
	return e
}

// open starts a session with a seeded store.
func open(t *testing.T, schema *ir.Schema, opts ...Option) (*fixture, *Session) {
	t.Helper()
	fx := newFixture(t, schema, opts...)
	fx.seed(t)
	return fx, fx.factory.Open()
}

func mustGet(t *testing.T, e *Entity, field string) ir.IRValue {
	t.Helper()
	v, err := e.Get(context.Background(), field)
	require.NoError(t, err)
	return v
}

func selectAll(typeID string) queryir.Select {
	return queryir.Select{From: typeID}
}
