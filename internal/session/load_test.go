package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
)

func names(t *testing.T, entities []*Entity) []string {
	t.Helper()
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = string(mustGet(t, e, "name").(ir.IRString))
	}
	return out
}

func TestFindByKey_EagerToOneLoadedImmediately(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	ctx := context.Background()

	m, err := s.FindByKey(ctx, "Member", ir.IRInt(1))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Stats().KeyFetches)

	loaded, err := s.IsAssociationLoaded(m, "team")
	require.NoError(t, err)
	assert.True(t, loaded)

	team, err := m.Ref(ctx, "team")
	require.NoError(t, err)
	assert.True(t, team.IsInitialized())
	assert.Equal(t, ir.IRString("Red"), mustGet(t, team, "name"))
	assert.Equal(t, 2, s.Stats().KeyFetches)
}

func TestFindByKey_EagerToManyLoadedImmediately(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchLazy, ir.FetchEager))
	ctx := context.Background()

	team, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().KeyFetches)
	assert.Equal(t, 1, s.Stats().QueryFetches)

	members, err := team.Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names(t, members))
	assert.Equal(t, 2, s.Stats().Fetches())
}

func TestQuery_EagerToOneIsNPlusOne(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	ctx := context.Background()

	members, err := s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.NoError(t, err)
	require.Len(t, members, 3)

	// One owner query, then one fetch per distinct team: Ann and Bob share
	// Red, so the second lookup is an identity hit.
	assert.Equal(t, 1, s.Stats().QueryFetches)
	assert.Equal(t, 2, s.Stats().KeyFetches)

	for _, m := range members {
		loaded, err := s.IsAssociationLoaded(m, "team")
		require.NoError(t, err)
		assert.True(t, loaded)
	}
}

func TestQuery_EagerToOneSkipsCachedTargets(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	ctx := context.Background()

	_, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	s.ResetStats()

	_, err = s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().QueryFetches)
	assert.Equal(t, 1, s.Stats().KeyFetches)
}

func TestQuery_EagerToManyIsNPlusOne(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchLazy, ir.FetchEager))
	ctx := context.Background()

	teams, err := s.ExecuteQuery(ctx, selectAll("Team"), nil)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, 3, s.Stats().QueryFetches)

	red, err := teams[0].Collection(ctx, "members")
	require.NoError(t, err)
	blue, err := teams[1].Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names(t, red))
	assert.Equal(t, []string{"Cid"}, names(t, blue))
	assert.Equal(t, 3, s.Stats().QueryFetches)
}

func TestQuery_BatchedEagerToOne(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy), WithBatchSize(10))
	ctx := context.Background()

	members, err := s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, 2, s.Stats().QueryFetches)
	assert.Equal(t, 0, s.Stats().KeyFetches)

	team, err := members[2].Ref(ctx, "team")
	require.NoError(t, err)
	assert.True(t, team.IsInitialized())
	assert.Equal(t, ir.IRString("Blue"), mustGet(t, team, "name"))
	assert.Equal(t, 2, s.Stats().Fetches())
}

func TestQuery_BatchSizeChunksRoundTrips(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy), WithBatchSize(1))

	_, err := s.ExecuteQuery(context.Background(), selectAll("Member"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Stats().QueryFetches)
}

func TestQuery_BatchedEagerToMany(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchLazy, ir.FetchEager), WithBatchSize(10))
	ctx := context.Background()

	teams, err := s.ExecuteQuery(ctx, selectAll("Team"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Stats().QueryFetches)

	red, err := teams[0].Collection(ctx, "members")
	require.NoError(t, err)
	blue, err := teams[1].Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names(t, red))
	assert.Equal(t, []string{"Cid"}, names(t, blue))
	assert.Equal(t, 2, s.Stats().QueryFetches)
}

func TestFindByKey_BatchingDoesNotApplyToSingleRows(t *testing.T) {
	_, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy), WithBatchSize(10))

	_, err := s.FindByKey(context.Background(), "Member", ir.IRInt(1))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Stats().KeyFetches)
	assert.Equal(t, 0, s.Stats().QueryFetches)
}

func TestQuery_JoinFetchToManyKeepsCardinality(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	plain, err := s.ExecuteQuery(ctx, selectAll("Team"), nil)
	require.NoError(t, err)
	assert.Len(t, plain, 2)
	require.NoError(t, s.Clear())

	joined, err := s.ExecuteQuery(ctx, queryir.Select{
		From:  "Team",
		Fetch: []queryir.JoinFetch{{Association: "members"}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, joined, 3)
	assert.Same(t, joined[0], joined[1])
	assert.NotSame(t, joined[0], joined[2])

	s.ResetStats()
	red, err := joined[0].Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names(t, red))
	assert.Equal(t, 0, s.Stats().Fetches())
}

func TestQuery_JoinFetchDistinct(t *testing.T) {
	_, s := open(t, lazySchema)

	teams, err := s.ExecuteQuery(context.Background(), queryir.Select{
		From:     "Team",
		Fetch:    []queryir.JoinFetch{{Association: "members"}},
		Distinct: true,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, teams, 2)
	assert.Equal(t, 1, s.Stats().Fetches())
}

func TestQuery_JoinFetchOverridesLazyToOne(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	members, err := s.ExecuteQuery(ctx, queryir.Select{
		From:  "Member",
		Fetch: []queryir.JoinFetch{{Association: "team"}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, members, 3)

	team, err := members[0].Ref(ctx, "team")
	require.NoError(t, err)
	assert.True(t, team.IsInitialized())
	assert.Equal(t, 1, s.Stats().Fetches())

	// The declared strategy is unchanged for other access paths.
	require.NoError(t, s.Clear())
	m, err := s.FindByKey(ctx, "Member", ir.IRInt(1))
	require.NoError(t, err)
	ref, err := m.Ref(ctx, "team")
	require.NoError(t, err)
	assert.False(t, ref.IsInitialized())
}

func TestQuery_JoinFetchKeepsLoadedCollection(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	red, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	ann, err := s.FindByKey(ctx, "Member", ir.IRInt(1))
	require.NoError(t, err)
	_, err = red.Collection(ctx, "members")
	require.NoError(t, err)

	blue, err := s.GetReference("Team", ir.IRInt(2))
	require.NoError(t, err)
	require.NoError(t, ann.Link(ctx, "team", blue))

	_, err = s.ExecuteQuery(ctx, queryir.Select{
		From:   "Team",
		Fetch:  []queryir.JoinFetch{{Association: "members"}},
		Filter: queryir.Equals{Field: "id", Value: ir.IRInt(1)},
	}, nil)
	require.NoError(t, err)

	members, err := red.Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(t, members))
}

func TestQuery_FilterAndBoundValues(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	filter, err := queryir.ParseFilter(`name == bound.who`)
	require.NoError(t, err)

	got, err := s.ExecuteQuery(ctx, queryir.Select{From: "Member", Filter: filter},
		ir.IRObject{"who": ir.IRString("Bob")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.IRInt(2), got[0].ID())
}

func TestQuery_ResultsShareIdentity(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	bob, err := s.FindByKey(ctx, "Member", ir.IRInt(2))
	require.NoError(t, err)
	require.NoError(t, bob.Set(ctx, "name", ir.IRString("Robert")))

	members, err := s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Same(t, bob, members[1])
	// In-memory state wins over the row.
	assert.Equal(t, ir.IRString("Robert"), mustGet(t, members[1], "name"))
}

func TestQuery_PopulatesExistingReference(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	ref, err := s.GetReference("Member", ir.IRInt(3))
	require.NoError(t, err)

	members, err := s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.NoError(t, err)
	assert.Same(t, ref, members[2])
	assert.True(t, ref.IsInitialized())
	assert.Equal(t, 0, s.Stats().ProxyInitializations)
}

func TestQuery_Invalid(t *testing.T) {
	_, s := open(t, lazySchema)

	_, err := s.ExecuteQuery(context.Background(), queryir.Select{
		From:   "Member",
		Filter: queryir.Equals{Field: "colour", Value: ir.IRString("red")},
	}, nil)
	assert.Equal(t, ErrCodeInvalidQuery, ErrorCodeOf(err))
	assert.Equal(t, 0, s.Stats().Fetches())
}

func TestCollection_LazyFetchedOnce(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	red, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	loaded, err := s.IsAssociationLoaded(red, "members")
	require.NoError(t, err)
	assert.False(t, loaded)

	first, err := red.Collection(ctx, "members")
	require.NoError(t, err)
	second, err := red.Collection(ctx, "members")
	require.NoError(t, err)

	assert.Equal(t, []string{"Ann", "Bob"}, names(t, first))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Stats().QueryFetches)

	// Members resolve back to the same team instance.
	team, err := first[0].Ref(ctx, "team")
	require.NoError(t, err)
	assert.Same(t, red, team)
}

func TestCollection_DetachedOwner(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	red, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	require.NoError(t, s.Detach(red))

	_, err = red.Collection(ctx, "members")
	assert.Equal(t, ReasonDetached, AccessReasonOf(err))
}

func TestCollection_WrongCardinality(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	red, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)

	_, err = red.Ref(ctx, "members")
	assert.Equal(t, ErrCodeUnknownAssociation, ErrorCodeOf(err))
	_, err = red.Collection(ctx, "team")
	assert.Equal(t, ErrCodeUnknownAssociation, ErrorCodeOf(err))
}

func TestLink_SyncsLoadedInverseCollections(t *testing.T) {
	_, s := open(t, lazySchema)
	ctx := context.Background()

	red, err := s.FindByKey(ctx, "Team", ir.IRInt(1))
	require.NoError(t, err)
	blue, err := s.FindByKey(ctx, "Team", ir.IRInt(2))
	require.NoError(t, err)
	redMembers, err := red.Collection(ctx, "members")
	require.NoError(t, err)
	_, err = blue.Collection(ctx, "members")
	require.NoError(t, err)

	bob := redMembers[1]
	require.NoError(t, bob.Link(ctx, "team", blue))

	redMembers, err = red.Collection(ctx, "members")
	require.NoError(t, err)
	blueMembers, err := blue.Collection(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann"}, names(t, redMembers))
	assert.Equal(t, []string{"Cid", "Bob"}, names(t, blueMembers))

	err = bob.Link(ctx, "team", redMembers[0])
	assert.Equal(t, ErrCodeInvalidValue, ErrorCodeOf(err))
}

// danglingTeam deletes Team#2 so Cid's team link points at a missing row.
func danglingTeam(t *testing.T, fx *fixture) {
	t.Helper()
	require.NoError(t, fx.store.Delete(context.Background(), ir.MustKey("Team", ir.IRInt(2))))
}

func TestFindByKey_FailedEagerLoadLeavesNothingManaged(t *testing.T) {
	fx, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	danglingTeam(t, fx)
	ctx := context.Background()

	for range 2 {
		m, err := s.FindByKey(ctx, "Member", ir.IRInt(3))
		require.Error(t, err)
		assert.Nil(t, m)
		assert.True(t, IsRecordNotFound(err))
		assert.Empty(t, s.Managed())
	}
	assert.Equal(t, 4, s.Stats().KeyFetches, "each attempt refetches the member")
	assert.Zero(t, s.Stats().EntitiesLoaded)
}

func TestGetReference_FailedEagerLoadKeepsReferenceUninitialized(t *testing.T) {
	fx, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	danglingTeam(t, fx)
	ctx := context.Background()

	ref, err := s.GetReference("Member", ir.IRInt(3))
	require.NoError(t, err)

	for range 2 {
		_, err = ref.Get(ctx, "name")
		require.Error(t, err)
		assert.True(t, IsRecordNotFound(err))
		assert.False(t, ref.IsInitialized())
		assert.False(t, s.IsLoaded(ref))
	}
	assert.True(t, s.Contains(ref), "the reference was managed before the failed loads")
	assert.Equal(t, []ir.RecordKey{ref.Key()}, s.Managed())
	assert.Zero(t, s.Stats().ProxyInitializations)
	assert.Zero(t, s.Stats().EntitiesLoaded)
}

func TestQuery_FailedEagerLoadRestoresIdentityMap(t *testing.T) {
	fx, s := open(t, teamSchema(ir.FetchEager, ir.FetchEager))
	danglingTeam(t, fx)
	ctx := context.Background()

	red, err := s.GetReference("Team", ir.IRInt(1))
	require.NoError(t, err)
	before := s.Managed()
	loaded := s.Stats().EntitiesLoaded

	for range 2 {
		members, err := s.ExecuteQuery(ctx, selectAll("Member"), nil)
		require.Error(t, err)
		assert.Nil(t, members)
		assert.True(t, IsRecordNotFound(err))
		assert.Equal(t, before, s.Managed())
	}
	assert.False(t, red.IsInitialized())
	assert.False(t, red.collections["members"].loaded)
	assert.Empty(t, red.collections["members"].keys)
	assert.Equal(t, loaded, s.Stats().EntitiesLoaded)

	// The managed reference still works once the query is narrowed.
	members, err := s.ExecuteQuery(ctx, queryir.Select{
		From:   "Member",
		Filter: queryir.BoundEquals{Field: "team_id", BoundVar: "bound.team"},
	}, ir.IRObject{"team": ir.IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob"}, names(t, members))
	assert.True(t, red.IsInitialized())

	team, err := members[0].Ref(ctx, "team")
	require.NoError(t, err)
	assert.Same(t, red, team)
}

func TestQuery_FailedLoadKeepsInitializedInstances(t *testing.T) {
	fx, s := open(t, teamSchema(ir.FetchEager, ir.FetchLazy))
	ctx := context.Background()

	ann, err := s.FindByKey(ctx, "Member", ir.IRInt(1))
	require.NoError(t, err)
	require.NoError(t, ann.Set(ctx, "nick", ir.IRString("annie")))
	danglingTeam(t, fx)
	before := s.Managed()

	_, err = s.ExecuteQuery(ctx, selectAll("Member"), nil)
	require.Error(t, err)
	assert.Equal(t, before, s.Managed())
	assert.True(t, s.Contains(ann))
	assert.Equal(t, ir.IRString("annie"), mustGet(t, ann, "nick"))
}
