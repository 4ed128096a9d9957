package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/compiler"
	"github.com/roach88/pcx/internal/ir"
)

func TestCompileText(t *testing.T) {
	out, _, err := execute(t, "compile", eagerSchema)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 2 entities")
	assert.Contains(t, out, "Member (id id, identity): 2 field(s)")
	assert.Contains(t, out, "team → Team to_one eager")
	assert.Contains(t, out, "members → Member to_many lazy")
}

func TestCompileWritesOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")

	out, _, err := execute(t, "compile", "-o", path, lazySchema)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote schema to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var schema ir.Schema
	require.NoError(t, json.Unmarshal(data, &schema))
	require.Len(t, schema.Entities, 2)

	member := schema.Entities[0]
	assert.Equal(t, "Member", member.Name)
	require.Len(t, member.Associations, 1)
	assert.Equal(t, "team_id", member.Associations[0].Column)
	assert.Equal(t, ir.FetchLazy, member.Associations[0].Fetch)
	nick := member.Fields[1]
	assert.Equal(t, "nick", nick.Name)
	assert.True(t, nick.Nullable)
}

func TestCompileJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "compile", eagerSchema)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   ir.Schema `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entities, 2)
	assert.Equal(t, "Team", resp.Data.Entities[1].Name)
	assert.Equal(t, ir.IDIdentity, resp.Data.Entities[1].IDStrategy)
}

func TestCompileInvalidSchema(t *testing.T) {
	dir := writeSchema(t, `package schema

entity: Member: associations: team: {target: "Team", cardinality: "to_one"}
`)
	path := filepath.Join(t.TempDir(), "schema.json")

	out, _, err := execute(t, "compile", "-o", path, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, compiler.ErrUnknownTarget)
	assert.NoFileExists(t, path)
}

func TestCompileMissingDirectory(t *testing.T) {
	out, _, err := execute(t, "compile", "/nonexistent/schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "schema directory not found")
}

func TestCompileUnwritableOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "schema.json")

	_, _, err := execute(t, "compile", "-o", path, eagerSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeWriteFailed)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := map[string]string{
		"cue":                            ErrCodeBuildFailed,
		"entity":                         compiler.ErrNoEntities,
		"type":                           compiler.ErrInvalidFieldType,
		"id.field":                       compiler.ErrInvalidIDField,
		"id.strategy":                    compiler.ErrInvalidEnum,
		"associations.team.target":       compiler.ErrInvalidEnum,
		"associations.team.cardinality":  compiler.ErrInvalidEnum,
		"associations.team.column":       compiler.ErrInvalidColumn,
		"associations.members.mapped_by": compiler.ErrInvalidMappedBy,
		"something.else":                 ErrCodeGeneric,
	}
	for field, want := range tests {
		assert.Equal(t, want, MapFieldToErrorCode(field), field)
	}
}
