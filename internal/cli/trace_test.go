package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/store"
	"vigil/internal/workflow"
)

// persistedSession is a version-1 session envelope as the engine writes it.
const persistedSession = `{
	"version": 1,
	"session": {
		"contract_id": "onboarding",
		"current_step": 0,
		"steps": {
			"profile": {"status": "COMPLETED", "completions": 1},
			"tour": {"status": "FAILED", "completions": 0, "error": "network down"}
		},
		"started_at": "2024-01-01T00:00:00Z"
	}
}`

func seedSessionStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Set(context.Background(), workflow.SessionKey, []byte(persistedSession)))
	return path
}

func TestTraceMissingDBFlag(t *testing.T) {
	_, err := executeCommand(t, "trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestTraceNoPersistedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")

	out, err := executeCommand(t, "trace", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no persisted workflow session")
}

func TestTraceShowsSession(t *testing.T) {
	path := seedSessionStore(t)

	out, err := executeCommand(t, "trace", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Contract: onboarding")
	assert.Contains(t, out, "profile")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "error: network down")
}

func TestTraceJSONOutput(t *testing.T) {
	path := seedSessionStore(t)

	out, err := executeCommand(t, "--format", "json", "trace", "--db", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "onboarding", data["contract_id"])
	assert.Equal(t, false, data["completed"])

	steps, ok := data["steps"].([]interface{})
	require.True(t, ok)
	assert.Len(t, steps, 2)
}

func TestTraceRejectsCorruptSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), workflow.SessionKey, []byte("{not json")))
	require.NoError(t, st.Close())

	_, err = executeCommand(t, "trace", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to decode session")
}
