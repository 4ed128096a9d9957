package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
	"github.com/roach88/pcx/internal/store"
)

var (
	eagerSchema  = filepath.Join("..", "harness", "testdata", "schema", "eager")
	lazySchema   = filepath.Join("..", "harness", "testdata", "schema", "lazy")
	fixturesFile = filepath.Join("testdata", "fixtures.yaml")
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// seededDB loads the fixtures into a new database and returns its path.
func seededDB(t *testing.T, schemaDir string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "pcx.db")
	_, _, err := execute(t, "load", "--db", db, schemaDir, fixturesFile)
	require.NoError(t, err)
	return db
}

// writeSchema writes one CUE file into a new directory.
func writeSchema(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(content), 0644))
	return dir
}

// deleteRecord removes one row behind the session's back, leaving any link
// to it dangling.
func deleteRecord(t *testing.T, db, schemaDir string, key ir.RecordKey) {
	t.Helper()
	schema, err := LoadValidSchema(schemaDir)
	require.NoError(t, err)
	st, err := store.Open(db, schema)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Delete(context.Background(), key))
}
