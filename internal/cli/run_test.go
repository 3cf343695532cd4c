package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

const passingScenario = `
name: undo_nothing
description: "undo on an empty history"
fixture: status_board
subscribe: [b1]
open: [b1/v1]
flow:
  - invoke: undo
    expect: { outcome: NOTHING_TO_UNDO }
assertions:
  - type: remote_calls
`

const failingScenario = `
name: wrong_outcome
description: "expects a failure that does not happen"
fixture: status_board
subscribe: [b1]
flow:
  - invoke: change_title
    args: { id: c1, title: "x" }
    expect: { outcome: REMOTE_REJECTED }
assertions:
  - type: remote_calls
    calls: ["update:c1"]
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRun_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "run", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ grouped_undo")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestRun_JSON(t *testing.T) {
	out, err := execute(t, "run", scenariosDir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Positive(t, resp.Data.Total)
	assert.Equal(t, resp.Data.Total, resp.Data.Passed)
	assert.Zero(t, resp.Data.Failed)
}

func TestRun_Filter(t *testing.T) {
	out, err := execute(t, "run", scenariosDir, "--filter", "grouped_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "grouped_undo", resp.Data.Scenarios[0].Name)
}

func TestRun_Failure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_outcome")
	assert.Contains(t, out, "expected outcome REMOTE_REJECTED, got OK")
	assert.Contains(t, out, "Summary: 0 passed, 1 failed, 1 total")
}

func TestRun_FailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "wrong.yaml", failingScenario)
	writeScenario(t, dir, "ok.yaml", passingScenario)

	out, err := execute(t, "run", dir, "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)
}

func TestRun_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "typo.yaml", "name: typo\ndescription: d\nflw: []\n")

	out, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ typo.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestRun_Golden(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "ok.yaml", passingScenario)
	golden := filepath.Join(dir, "golden", "undo_nothing.golden")

	out, err := execute(t, "run", path, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outcome":"NOTHING_TO_UNDO"`)
	assert.Contains(t, string(data), "b1/v1 {")

	// The golden directory is not mistaken for scenarios.
	out, err = execute(t, "run", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Summary: 1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	out, err = execute(t, "run", dir)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestRun_GoldenDir(t *testing.T) {
	dir := t.TempDir()
	goldenDir := filepath.Join(t.TempDir(), "snapshots")
	path := writeScenario(t, dir, "ok.yaml", passingScenario)

	_, err := execute(t, "run", path, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(goldenDir, "undo_nothing.golden"))
	assert.NoDirExists(t, filepath.Join(dir, "golden"))
}

func TestRun_UpdateRefusesFailingScenario(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "wrong.yaml", failingScenario)

	_, err := execute(t, "run", path, "--update")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "golden", "wrong_outcome.golden"))
}

func TestRun_Empty(t *testing.T) {
	out, err := execute(t, "run", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestRun_MissingPath(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
