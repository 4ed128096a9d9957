package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")
	goldenDir    = filepath.Join("..", "harness", "testdata", "golden")
)

func TestTestCommandPassesAgainstGoldens(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--golden", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ eager_n_plus_one (4 fetches)")
	assert.Contains(t, out, "✓ batch_fetch (2 fetches)")
	assert.Contains(t, out, "Test Summary: 6 passed, 0 failed, 6 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--golden", goldenDir, "--filter", "lazy_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ lazy_team_shared")
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "eager_n_plus_one")
}

func TestTestCommandUpdateWritesGoldens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")

	out, _, err := execute(t, "test", scenariosDir, "--golden", dir, "--filter", "join_fetch", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ join_fetch (3 fetches, golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "join_fetch.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "join_fetch.golden"))
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch_fetch.golden"),
		[]byte(`{"scenario_name":"batch_fetch","trace":[]}`), 0644))

	out, _, err := execute(t, "test", scenariosDir, "--golden", dir, "--filter", "batch_fetch")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ batch_fetch")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandMissingGoldenIsNotAFailure(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--golden", t.TempDir(), "--filter", "clear_resumes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ clear_resumes")
}

func TestTestCommandMissingDirectory(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandBrokenScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nbogus: true\n"), 0644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", scenariosDir, "--golden", goldenDir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 6, resp.Data.Total)
	assert.Equal(t, 6, resp.Data.Passed)
	for _, s := range resp.Data.Scenarios {
		assert.True(t, s.Pass, s.Name)
	}
}

func TestFindScenarioFiles(t *testing.T) {
	files, err := findScenarioFiles(scenariosDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 6)

	files, err = findScenarioFiles(scenariosDir, "*_fetch")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(scenariosDir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}
