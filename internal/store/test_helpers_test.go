package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/pcx/internal/ir"
)

// testSchema maps Team 1-* Member plus an assigned-id Tag.
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
		ir.EntityType{
			Name: "Tag", IDField: "code", IDStrategy: ir.IDAssigned,
			Fields: []ir.FieldDef{{Name: "label", Type: ir.FieldString}},
		},
	)
}

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, testSchema())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRow(typeID string, fields ir.IRObject) ir.Row {
	return ir.Row{Key: ir.RecordKey{TypeID: typeID}, Fields: fields}
}

func memberRow(name string, team ir.RecordKey) ir.Row {
	row := newRow("Member", ir.IRObject{"name": ir.IRString(name), "active": ir.IRBool(true)})
	row.Links = map[string]ir.Link{"team": {Key: team}}
	return row
}
