package confirm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/def"
	"vigil/internal/testutil"
)

func confirmRegistry(t *testing.T) *def.Registry {
	t.Helper()
	actions := []def.ActionDefinition{
		{
			ID:             "DELETE_CONNECTION",
			Label:          "Delete connection",
			Severity:       def.SeverityHigh,
			Consequences:   []string{"All synced data is removed", "Shared links stop working"},
			RequiresPhrase: true,
			Phrase:         "DELETE",
			Cooldown:       2 * time.Second,
		},
		{ID: "CLEAR_DRAFT", Label: "Clear draft", Severity: def.SeverityLow},
		{
			ID:       "PURGE_WORKSPACE",
			Label:    "Purge workspace",
			Severity: def.SeverityCritical,
			Cooldown: 500 * time.Millisecond,
		},
	}
	r, err := def.NewRegistry(actions, []def.TimeProfile{{Kind: def.DefaultProfileKind, Label: "This operation"}}, nil)
	require.NoError(t, err)
	return r
}

func setupGate(t *testing.T) (*Gate, *testutil.FakeScheduler) {
	t.Helper()
	sched := testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(confirmRegistry(t), sched, nil, nil), sched
}

func TestGate_UnknownActionLoggedAndDropped(t *testing.T) {
	g, _ := setupGate(t)

	err := g.RequestConfirmation("RETIRED_ACTION", "item", nil)
	require.NoError(t, err, "stale action id is not a logic defect")
	assert.Equal(t, StateIdle, g.State(), "no session opened")
}

func TestGate_SecondRequestRejected(t *testing.T) {
	g, _ := setupGate(t)

	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "draft-1", nil))
	err := g.RequestConfirmation("CLEAR_DRAFT", "draft-2", nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	// The original session is untouched.
	s, ok := g.Session()
	require.True(t, ok)
	assert.Equal(t, "draft-1", s.TargetLabel)
}

func TestGate_LowSeverityNoGates(t *testing.T) {
	g, _ := setupGate(t)

	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "draft", nil))
	assert.True(t, g.IsValid(), "no phrase, no ack, no cooldown: valid immediately")
	assert.Equal(t, StateValid, g.State())
}

// Cooldown 2000ms, phrase "DELETE", severity HIGH: invalid at t=0 even
// with phrase and checkbox set; valid only once the cooldown elapses.
func TestGate_CooldownGatesValidity(t *testing.T) {
	g, sched := setupGate(t)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn-42", nil))
	g.SetPhraseInput("DELETE")
	g.SetAcknowledged(true)

	assert.False(t, g.IsValid(), "cooldown not elapsed")
	assert.Equal(t, StateCoolingDown, g.State())

	sched.Advance(time.Second)
	assert.False(t, g.IsValid(), "one second remaining")

	sched.Advance(time.Second)
	assert.True(t, g.IsValid())
	assert.Equal(t, StateValid, g.State())

	s, ok := g.Session()
	require.True(t, ok)
	assert.Zero(t, s.CooldownRemaining)
}

func TestGate_PhraseMustMatchExactly(t *testing.T) {
	g, sched := setupGate(t)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn", nil))
	g.SetAcknowledged(true)
	sched.Advance(2 * time.Second)

	g.SetPhraseInput("delete")
	assert.False(t, g.IsValid(), "case differs")

	g.SetPhraseInput("DELETE ")
	assert.False(t, g.IsValid(), "trailing space differs")

	g.SetPhraseInput("DELETE")
	assert.True(t, g.IsValid())
}

func TestGate_PhraseComparisonNormalizesNFC(t *testing.T) {
	actions := []def.ActionDefinition{{
		ID:             "DROP_SCHEMA",
		Label:          "Drop schema",
		Severity:       def.SeverityMedium,
		RequiresPhrase: true,
		Phrase:         "schéma", // "schéma", precomposed
	}}
	r, err := def.NewRegistry(actions, []def.TimeProfile{{Kind: def.DefaultProfileKind, Label: "x"}}, nil)
	require.NoError(t, err)

	g := New(r, testutil.NewFakeScheduler(time.Now()), nil, nil)
	require.NoError(t, g.RequestConfirmation("DROP_SCHEMA", "schema", nil))

	// Same text typed with a combining accent.
	g.SetPhraseInput("schéma")
	assert.True(t, g.IsValid(), "NFC-equal phrases compare equal")
}

func TestGate_AcknowledgementRequiredForHighAndCritical(t *testing.T) {
	g, sched := setupGate(t)

	require.NoError(t, g.RequestConfirmation("PURGE_WORKSPACE", "ws", nil))
	sched.Advance(time.Second) // 500ms cooldown rounds up to one tick
	assert.False(t, g.IsValid(), "CRITICAL requires acknowledgement")
	assert.Equal(t, StateAwaitingInput, g.State())

	g.SetAcknowledged(true)
	assert.True(t, g.IsValid())

	g.SetAcknowledged(false)
	assert.False(t, g.IsValid(), "unchecking revokes validity")
}

func TestGate_ExecuteAction_InvokesAndCloses(t *testing.T) {
	g, _ := setupGate(t)

	confirmed := false
	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "draft", func() error {
		confirmed = true
		return nil
	}))

	require.NoError(t, g.ExecuteAction())
	assert.True(t, confirmed)
	assert.Equal(t, StateIdle, g.State(), "dialog closed after execution")
}

func TestGate_ExecuteAction_WhileInvalidFails(t *testing.T) {
	g, _ := setupGate(t)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn", nil))
	err := g.ExecuteAction()
	assert.ErrorIs(t, err, ErrNotValid)
	assert.NotEqual(t, StateIdle, g.State(), "session stays open for the user to finish")
}

func TestGate_ExecuteAction_NoSession(t *testing.T) {
	g, _ := setupGate(t)
	assert.ErrorIs(t, g.ExecuteAction(), ErrNoSession)
}

func TestGate_ExecuteAction_ErrorStillCloses(t *testing.T) {
	g, _ := setupGate(t)

	boom := errors.New("dispatch failed")
	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "draft", func() error { return boom }))

	assert.ErrorIs(t, g.ExecuteAction(), boom)
	assert.Equal(t, StateIdle, g.State(), "failed confirm must not leave the dialog open")
}

func TestGate_ExecuteAction_PanicStillCloses(t *testing.T) {
	g, _ := setupGate(t)

	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "draft", func() error {
		panic("confirm handler exploded")
	}))

	assert.Panics(t, func() { _ = g.ExecuteAction() })
	assert.Equal(t, StateIdle, g.State())
}

func TestGate_CloseDialog_CancelsCooldownTicker(t *testing.T) {
	g, sched := setupGate(t)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn", nil))
	require.Equal(t, 1, sched.Pending(), "cooldown ticker scheduled")

	g.CloseDialog()
	assert.Equal(t, 0, sched.Pending(), "ticker handle released with the session")
	assert.Equal(t, StateIdle, g.State())

	// A second close is a no-op.
	g.CloseDialog()
}

func TestGate_CooldownTickerStopsAtZero(t *testing.T) {
	g, sched := setupGate(t)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn", nil))
	sched.Advance(time.Minute)
	assert.Equal(t, 0, sched.Pending(), "countdown ticker stops once it reaches zero")

	s, ok := g.Session()
	require.True(t, ok)
	assert.Zero(t, s.CooldownRemaining)
}

func TestGate_OnChangeFiresOnEveryObservableChange(t *testing.T) {
	sched := testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	changes := 0
	g := New(confirmRegistry(t), sched, func() { changes++ }, nil)

	require.NoError(t, g.RequestConfirmation("DELETE_CONNECTION", "conn", nil)) // open
	g.SetPhraseInput("DELETE")                                                 // input
	g.SetAcknowledged(true)                                                    // toggle
	sched.Advance(2 * time.Second)                                             // two ticks
	g.CloseDialog()                                                            // close

	assert.Equal(t, 6, changes)
}

func TestGate_NewSessionAfterClose(t *testing.T) {
	g, _ := setupGate(t)

	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "a", nil))
	g.CloseDialog()
	require.NoError(t, g.RequestConfirmation("CLEAR_DRAFT", "b", nil))

	s, ok := g.Session()
	require.True(t, ok)
	assert.Equal(t, "b", s.TargetLabel)
}
