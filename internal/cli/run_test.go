package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario lays out a scenario file with its definitions pack next
// to it, the way packs ship: defs/ referenced relative to the scenario.
func writeScenario(t *testing.T, scenario string) string {
	t.Helper()
	dir := t.TempDir()

	defsDir := filepath.Join(dir, "defs")
	require.NoError(t, os.MkdirAll(defsDir, 0755))

	pack := `
actions: ARCHIVE_BOARD: {
	label:       "Archive board"
	severity:    "MEDIUM"
	cooldown_ms: 1000
}

profiles: default: {
	label:      "This operation"
	warning_ms: 10000
	timeout_ms: 30000
}
`
	require.NoError(t, os.WriteFile(filepath.Join(defsDir, "pack.cue"), []byte(pack), 0644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0644))
	return path
}

const passingScenario = `
name: archive-confirm
description: Medium-severity confirmation clears after its cooldown.
defs:
  - defs/pack.cue
steps:
  - op: request_confirmation
    action: ARCHIVE_BOARD
  - op: advance
    duration: 1s
  - op: execute_confirmed
assertions:
  - type: trace_count
    kind: confirmed
    count: 1
  - type: gate_state
    state: IDLE
`

const failingScenario = `
name: archive-confirm-wrong
description: Expects two confirmations where only one happens.
defs:
  - defs/pack.cue
steps:
  - op: request_confirmation
    action: ARCHIVE_BOARD
  - op: advance
    duration: 1s
  - op: execute_confirmed
assertions:
  - type: trace_count
    kind: confirmed
    count: 2
`

func TestRunScenarioPasses(t *testing.T) {
	path := writeScenario(t, passingScenario)

	out, err := executeCommand(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ archive-confirm passed")
	assert.Contains(t, out, "3 steps")
}

func TestRunScenarioFails(t *testing.T) {
	path := writeScenario(t, failingScenario)

	out, err := executeCommand(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ archive-confirm-wrong failed")
	assert.Contains(t, out, "confirmed")
}

func TestRunMissingScenarioFile(t *testing.T) {
	_, err := executeCommand(t, "run", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunBrokenDefinitions(t *testing.T) {
	path := writeScenario(t, passingScenario)

	// Corrupt the pack so scenario compilation fails.
	defsPath := filepath.Join(filepath.Dir(path), "defs", "pack.cue")
	bad := `
actions: ARCHIVE_BOARD: {
	label:    "Archive board"
	severity: "EXTREME"
}
`
	require.NoError(t, os.WriteFile(defsPath, []byte(bad), 0644))

	_, err := executeCommand(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to run scenario")
}

func TestRunDefsOverride(t *testing.T) {
	path := writeScenario(t, passingScenario)

	// Run from a scenario copy elsewhere, pointing --defs back at the
	// original pack directory.
	other := filepath.Join(t.TempDir(), "copy.yaml")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(other, content, 0644))

	out, err := executeCommand(t, "run", other, "--defs", filepath.Dir(path))
	require.NoError(t, err)
	assert.Contains(t, out, "passed")
}

func TestRunShowsTrace(t *testing.T) {
	path := writeScenario(t, passingScenario)

	out, err := executeCommand(t, "run", path, "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "confirm")
	assert.Contains(t, out, "confirmed")
}

func TestRunJSONOutput(t *testing.T) {
	path := writeScenario(t, passingScenario)

	out, err := executeCommand(t, "--format", "json", "run", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "archive-confirm", data["scenario"])
	assert.Equal(t, true, data["pass"])

	trace, ok := data["trace"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, trace)
}
