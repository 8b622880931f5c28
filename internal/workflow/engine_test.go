package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/def"
	"vigil/internal/store"
	"vigil/internal/testutil"
)

func testRegistry(t *testing.T) *def.Registry {
	t.Helper()
	r, err := def.NewRegistry(
		nil,
		[]def.TimeProfile{{Kind: def.DefaultProfileKind, Label: "This operation"}},
		[]def.WorkflowContract{onboardingContract()},
	)
	require.NoError(t, err)
	return r
}

func setupEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	kv := store.NewMemory()
	sched := testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewEngine(testRegistry(t), kv, sched, nil), kv
}

func TestEngine_StartWorkflow_UnknownContract(t *testing.T) {
	e, _ := setupEngine(t)

	err := e.StartWorkflow(context.Background(), "nope")
	assert.Equal(t, ErrCodeUnknownContract, ViolationCodeOf(err))
}

func TestEngine_StartWorkflow_WhileActiveRaises(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
	err := e.StartWorkflow(ctx, "onboarding")
	assert.Equal(t, ErrCodeWorkflowActive, ViolationCodeOf(err))
}

func TestEngine_StepOpsWithoutActiveWorkflow(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	assert.Equal(t, ErrCodeNoActiveWorkflow, ViolationCodeOf(e.AdvanceStep(ctx, "A", nil)))
	assert.Equal(t, ErrCodeNoActiveWorkflow, ViolationCodeOf(e.CompleteStep(ctx, "A", nil)))
	assert.Equal(t, ErrCodeNoActiveWorkflow, ViolationCodeOf(e.CompleteWorkflow(ctx)))
}

func TestEngine_PersistsAfterEveryMutation(t *testing.T) {
	e, kv := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
	data, ok, err := kv.Get(ctx, SessionKey)
	require.NoError(t, err)
	require.True(t, ok, "start must persist")

	s, err := unmarshalSession(data)
	require.NoError(t, err)
	assert.Equal(t, StepPending, s.Steps["A"].Status)

	require.NoError(t, e.AdvanceStep(ctx, "A", nil))
	data, _, _ = kv.Get(ctx, SessionKey)
	s, err = unmarshalSession(data)
	require.NoError(t, err)
	assert.Equal(t, StepInProgress, s.Steps["A"].Status)
}

func TestEngine_ViolationDoesNotPersist(t *testing.T) {
	e, kv := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
	before, _, _ := kv.Get(ctx, SessionKey)

	err := e.AdvanceStep(ctx, "B", nil)
	require.True(t, IsViolation(err))

	after, _, _ := kv.Get(ctx, SessionKey)
	assert.Equal(t, before, after, "failed transition must not touch storage")
}

func TestEngine_AbandonWorkflow_ClearsStateAndStorage(t *testing.T) {
	e, kv := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
	require.NoError(t, e.AbandonWorkflow(ctx))

	assert.False(t, e.Session().Active())
	_, ok, _ := kv.Get(ctx, SessionKey)
	assert.False(t, ok)

	// Abandoning again is a no-op.
	require.NoError(t, e.AbandonWorkflow(ctx))
}

func TestEngine_Restore_ReplaysOnlyCompletedSteps(t *testing.T) {
	kv := store.NewMemory()
	sched := testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// First engine: complete A, leave B mid-flight, fail C.
	e1 := NewEngine(testRegistry(t), kv, sched, nil)
	require.NoError(t, e1.StartWorkflow(ctx, "onboarding"))
	require.NoError(t, e1.AdvanceStep(ctx, "A", map[string]any{"email": "x@y.z"}))
	require.NoError(t, e1.CompleteStep(ctx, "A", nil))
	require.NoError(t, e1.AdvanceStep(ctx, "B", nil))
	require.NoError(t, e1.CompleteStep(ctx, "B", nil)) // 1 of 2, stays IN_PROGRESS
	require.NoError(t, e1.AdvanceStep(ctx, "C", nil))
	require.NoError(t, e1.FailStep(ctx, "C", "smtp down"))

	// Second engine simulates a fresh client start.
	e2 := NewEngine(testRegistry(t), kv, sched, nil)
	require.NoError(t, e2.Restore(ctx))

	s := e2.Session()
	require.True(t, s.Active())
	assert.Equal(t, StepCompleted, s.Steps["A"].Status)
	assert.Equal(t, map[string]any{"email": "x@y.z"}, s.Steps["A"].Data)
	assert.Equal(t, StepPending, s.Steps["B"].Status, "mid-flight step resets")
	assert.Zero(t, s.Steps["B"].Completions, "partial completions are not trusted")
	assert.Equal(t, StepPending, s.Steps["C"].Status, "failed step resets")
	assert.Empty(t, s.Steps["C"].Error)
	assert.Equal(t, 0, s.CurrentStep, "resume from last known good step")

	// The restored session can continue from A.
	require.NoError(t, e2.AdvanceStep(ctx, "B", nil))
}

func TestEngine_Restore_NoPersistedState(t *testing.T) {
	e, _ := setupEngine(t)
	require.NoError(t, e.Restore(context.Background()))
	assert.False(t, e.Session().Active())
}

func TestEngine_Restore_DropsCorruptState(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, SessionKey, []byte("not json")))

	sched := testutil.NewFakeScheduler(time.Now())
	e := NewEngine(testRegistry(t), kv, sched, nil)
	require.NoError(t, e.Restore(ctx))

	assert.False(t, e.Session().Active())
	_, ok, _ := kv.Get(ctx, SessionKey)
	assert.False(t, ok, "corrupt state is discarded")
}

func TestEngine_Restore_DropsUnknownContract(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	stale, err := marshalSession(Session{ContractID: "retired-contract", Steps: map[string]StepState{}})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, SessionKey, stale))

	e := NewEngine(testRegistry(t), kv, testutil.NewFakeScheduler(time.Now()), nil)
	require.NoError(t, e.Restore(ctx))
	assert.False(t, e.Session().Active())
}

func TestEngine_CompleteWorkflow_RecordsCompletedAt(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
	require.NoError(t, e.AdvanceStep(ctx, "A", nil))
	require.NoError(t, e.CompleteStep(ctx, "A", nil))
	require.NoError(t, e.AdvanceStep(ctx, "B", nil))
	require.NoError(t, e.CompleteStep(ctx, "B", nil))
	require.NoError(t, e.CompleteStep(ctx, "B", nil))
	require.NoError(t, e.CompleteWorkflow(ctx))

	s := e.Session()
	require.NotNil(t, s.CompletedAt)

	// A completed workflow no longer blocks starting the next one.
	require.NoError(t, e.StartWorkflow(ctx, "onboarding"))
}
