package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/session"
)

func TestFindEagerLoadsTeam(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "find", "--db", db, eagerSchema, "Member", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Member#1\n")
	assert.Contains(t, out, `  name: "Ann"`)
	assert.Contains(t, out, "  team → Team#1 (loaded)")
	assert.Contains(t, out, "Round trips: 2")
	assert.Contains(t, out, "[1] fetch_key Member#1 (1 rows)")
	assert.Contains(t, out, "[2] fetch_key Team#1 (1 rows)")
	assert.Contains(t, out, "Fetches: 2 (key 2, query 0)")
}

func TestFindLazyLeavesTeamUnloaded(t *testing.T) {
	db := seededDB(t, lazySchema)

	out, _, err := execute(t, "find", "--db", db, lazySchema, "Member", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `  nick: "bobby"`)
	assert.Contains(t, out, "  team → Team#1 (not loaded)")
	assert.Contains(t, out, "Fetches: 1 (key 1, query 0), proxies initialized: 0")
}

func TestFindToManyNotLoaded(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "find", "--db", db, eagerSchema, "Team", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `  name: "Red"`)
	assert.Contains(t, out, "  members → not loaded")
	assert.Contains(t, out, "Round trips: 1")
}

func TestFindJSON(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "--format", "json", "find", "--db", db, eagerSchema, "Member", "3")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   FindResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Member#3", resp.Data.Record.Key)
	assert.Equal(t, "Cid", resp.Data.Record.Fields["name"])
	assert.Equal(t, map[string]any{"key": "Team#2", "loaded": true}, resp.Data.Record.Associations["team"])

	require.Len(t, resp.Data.Trace, 2)
	assert.Equal(t, session.EventFetchKey, resp.Data.Trace[1].Kind)
	assert.Equal(t, "Team#2", resp.Data.Trace[1].Key)
	assert.Equal(t, 2, resp.Data.Stats.KeyFetches)
	assert.Equal(t, 2, resp.Data.Stats.EntitiesLoaded)
}

func TestFindNotFound(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "find", "--db", db, eagerSchema, "Member", "42")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [RECORD_NOT_FOUND]")
}

func TestFindUnknownType(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "find", "--db", db, eagerSchema, "Ghost", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [UNKNOWN_TYPE]")
}

func TestFindInvalidSchema(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "find", "--db", db, t.TempDir(), "Member", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNoFiles+"]")
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		want ir.IRValue
	}{
		{"1", ir.IRInt(1)},
		{`"A-1"`, ir.IRString("A-1")},
		{"A-1", ir.IRString("A-1")},
		{"ann", ir.IRString("ann")},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseID(tt.raw))
		})
	}
}

func TestFindNotFoundVerboseShowsTrace(t *testing.T) {
	db := seededDB(t, eagerSchema)

	out, _, err := execute(t, "--verbose", "find", "--db", db, eagerSchema, "Member", "42")
	require.Error(t, err)
	assert.Contains(t, out, "Error [RECORD_NOT_FOUND]")
	assert.Contains(t, out, "Details: Member#42 after 1 round trip(s)")
	assert.Contains(t, out, "[1] fetch_key Member#42 (0 rows)")
}
