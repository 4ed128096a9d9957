package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/queryir"
)

func testSchema() *ir.Schema {
	return ir.NewSchema(
		ir.EntityType{
			Name: "Team", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{{Name: "name", Type: ir.FieldString}},
			Associations: []ir.Association{
				{Name: "members", Target: "Member", Cardinality: ir.ToMany, Fetch: ir.FetchLazy, MappedBy: "team"},
			},
		},
		ir.EntityType{
			Name: "Member", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{{Name: "name", Type: ir.FieldString}, {Name: "active", Type: ir.FieldBool}},
			Associations: []ir.Association{
				{Name: "team", Target: "Team", Cardinality: ir.ToOne, Fetch: ir.FetchLazy, Column: "team_id"},
			},
		},
	)
}

func TestCompile_SimpleSelect(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())

	stmt, err := compiler.Compile(queryir.Select{
		From:   "Member",
		Filter: queryir.Equals{Field: "name", Value: ir.IRString("Ada")},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT o.pk, o.fields FROM records AS o WHERE o.type_id = ? AND json_extract(o.fields, ?) = ? ORDER BY o.seq ASC, o.pk ASC COLLATE BINARY",
		stmt.SQL)
	assert.Equal(t, []any{"Member", "$.name", "Ada"}, stmt.Params)
	assert.NotContains(t, stmt.SQL, "Ada")
	assert.Equal(t, "Member", stmt.Root)
	assert.Empty(t, stmt.Fetches)
}

func TestCompile_NoFilter(t *testing.T) {
	stmt, err := NewSQLCompiler(testSchema()).Compile(&queryir.Select{From: "Team"})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT o.pk, o.fields FROM records AS o WHERE o.type_id = ? ORDER BY o.seq ASC, o.pk ASC COLLATE BINARY",
		stmt.SQL)
	assert.Equal(t, []any{"Team"}, stmt.Params)
}

func TestCompile_PrimaryKeyUsesCanonicalText(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())

	stmt, err := compiler.Compile(queryir.Select{
		From:   "Member",
		Filter: queryir.In{Field: "id", Values: []ir.IRValue{ir.IRInt(1), ir.IRString("x")}},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "o.pk IN (?, ?)")
	assert.Equal(t, []any{"Member", "1", `"x"`}, stmt.Params)
}

func TestCompile_ForeignKeyFilter(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())

	byName, err := compiler.Compile(queryir.Select{From: "Member", Filter: queryir.Equals{Field: "team", Value: ir.IRInt(1)}})
	require.NoError(t, err)
	byColumn, err := compiler.Compile(queryir.Select{From: "Member", Filter: queryir.Equals{Field: "team_id", Value: ir.IRInt(1)}})
	require.NoError(t, err)

	assert.Equal(t, byName, byColumn)
	assert.Equal(t, []any{"Member", "$.team_id", int64(1)}, byName.Params)
}

func TestCompile_JoinFetchToOne(t *testing.T) {
	stmt, err := NewSQLCompiler(testSchema()).Compile(queryir.Select{
		From:   "Member",
		Fetch:  []queryir.JoinFetch{{Association: "team"}},
		Filter: queryir.Equals{Field: "active", Value: ir.IRBool(true)},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT o.pk, o.fields, j0.pk, j0.fields FROM records AS o"+
			" JOIN records AS j0 ON j0.type_id = ? AND j0.pk = json_quote(json_extract(o.fields, ?))"+
			" WHERE o.type_id = ? AND json_extract(o.fields, ?) = ?"+
			" ORDER BY o.seq ASC, o.pk ASC COLLATE BINARY, j0.seq ASC, j0.pk ASC COLLATE BINARY",
		stmt.SQL)
	assert.Equal(t, []any{"Team", "$.team_id", "Member", "$.active", true}, stmt.Params)
	assert.Equal(t, []FetchColumn{{Association: "team", Target: "Team", Cardinality: ir.ToOne, Alias: "j0"}}, stmt.Fetches)
}

func TestCompile_JoinFetchToMany(t *testing.T) {
	stmt, err := NewSQLCompiler(testSchema()).Compile(queryir.Select{
		From:  "Team",
		Fetch: []queryir.JoinFetch{{Association: "members"}},
	})
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, " JOIN records AS j0 ON j0.type_id = ? AND json_quote(json_extract(j0.fields, ?)) = o.pk")
	assert.Equal(t, []any{"Member", "$.team_id", "Team"}, stmt.Params)
	assert.Equal(t, ir.ToMany, stmt.Fetches[0].Cardinality)
}

func TestCompile_BoundEquals(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())
	compiler.BoundValues["team"] = ir.IRInt(3)

	stmt, err := compiler.Compile(queryir.Select{
		From: "Member",
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.BoundEquals{Field: "team_id", BoundVar: "bound.team"},
			queryir.Equals{Field: "name", Value: ir.IRString("Ada")},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "(json_extract(o.fields, ?) = ? AND json_extract(o.fields, ?) = ?)")
	assert.Equal(t, []any{"Member", "$.team_id", int64(3), "$.name", "Ada"}, stmt.Params)

	compiler.BoundValues = ir.IRObject{}
	_, err = compiler.Compile(queryir.Select{From: "Member", Filter: queryir.BoundEquals{Field: "team_id", BoundVar: "bound.team"}})
	assert.ErrorContains(t, err, `no value bound for "bound.team"`)
}

func TestCompile_EmptyPredicates(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())

	stmt, err := compiler.Compile(queryir.Select{From: "Member", Filter: queryir.And{}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "AND 1 = 1")

	stmt, err = compiler.Compile(queryir.Select{From: "Member", Filter: queryir.In{Field: "id"}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "AND 0 = 1")
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler(testSchema())

	tests := []struct {
		name  string
		query queryir.Query
		want  string
	}{
		{"nil query", nil, "nil query"},
		{"unknown entity", queryir.Select{From: "Nope"}, "unknown entity"},
		{"unknown association", queryir.Select{From: "Member", Fetch: []queryir.JoinFetch{{Association: "club"}}}, "unknown association"},
		{"unknown field", queryir.Select{From: "Member", Filter: queryir.Equals{Field: "age", Value: ir.IRInt(1)}}, "unknown field"},
		{"null value", queryir.Select{From: "Member", Filter: queryir.Equals{Field: "name", Value: ir.IRNull{}}}, "null never matches"},
		{"bool pk", queryir.Select{From: "Member", Filter: queryir.Equals{Field: "id", Value: ir.IRBool(true)}}, "primary key must be string or int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.Compile(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := (&SQLCompiler{}).Compile(queryir.Select{From: "Member"})
	assert.ErrorContains(t, err, "no schema")
}
