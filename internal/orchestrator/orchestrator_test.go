package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/confirm"
	"vigil/internal/def"
	"vigil/internal/guard"
	"vigil/internal/ident"
	"vigil/internal/store"
	"vigil/internal/testutil"
	"vigil/internal/track"
	"vigil/internal/workflow"
)

type fixture struct {
	orch    *Orchestrator
	gate    *confirm.Gate
	tracker *track.Tracker
	guard   *guard.Guard
	engine  *workflow.Engine
	sched   *testutil.FakeScheduler

	dispatched []Descriptor
	dispatchFn func(ctx context.Context, d Descriptor) error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := def.NewRegistry(
		[]def.ActionDefinition{{
			ID:       "DELETE_CONNECTION",
			Label:    "Delete connection",
			Severity: def.SeverityLow,
		}},
		[]def.TimeProfile{
			{Kind: def.DefaultProfileKind, Label: "This operation", Warning: 30 * time.Second, Timeout: 2 * time.Minute},
		},
		[]def.WorkflowContract{{
			ID:   "publish",
			Name: "Publish",
			Steps: []def.StepDefinition{
				{ID: "draft", Name: "Draft", Required: true, MinCompletions: 1},
				{ID: "review", Name: "Review", Required: true, MinCompletions: 1},
			},
		}},
	)
	require.NoError(t, err)

	f := &fixture{sched: testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))}
	f.gate = confirm.New(registry, f.sched, nil, nil)
	f.tracker = track.New(registry, f.sched, nil, nil)
	f.guard = guard.New(ident.NewSequenceGenerator("blk"), f.sched, nil)
	f.engine = workflow.NewEngine(registry, store.NewMemory(), f.sched, nil)

	dispatcher := DispatcherFunc(func(ctx context.Context, d Descriptor) error {
		f.dispatched = append(f.dispatched, d)
		if f.dispatchFn != nil {
			return f.dispatchFn(ctx, d)
		}
		if d.Action != nil {
			return d.Action(ctx)
		}
		return nil
	})

	f.orch = New(f.gate, f.tracker, f.guard, f.engine, dispatcher, ident.NewSequenceGenerator("op"), nil)
	return f
}

func TestRun_UnconfirmedDispatchesImmediately(t *testing.T) {
	f := newFixture(t)

	ran := false
	err := f.orch.Run(context.Background(), Request{
		OperationKind: "save",
		Label:         "Saving changes",
		Action:        func(context.Context) error { ran = true; return nil },
	})
	require.NoError(t, err)
	assert.True(t, ran)
	require.Len(t, f.dispatched, 1)
	assert.Equal(t, "op-1", f.dispatched[0].OperationID)
}

func TestRun_ReleasesTrackingAndBlockerOnSuccess(t *testing.T) {
	f := newFixture(t)

	f.dispatchFn = func(context.Context, Descriptor) error {
		// Mid-dispatch the operation is tracked and navigation blocked.
		assert.Equal(t, 1, f.tracker.ActiveCount())
		assert.False(t, f.guard.IsNavigationSafe())
		return nil
	}

	require.NoError(t, f.orch.Run(context.Background(), Request{OperationKind: "save", Label: "Saving"}))
	assert.Equal(t, 0, f.tracker.ActiveCount())
	assert.True(t, f.guard.IsNavigationSafe())
	assert.Equal(t, 0, f.sched.Pending(), "escalation timers released")
}

func TestRun_ReleasesOnDispatchError(t *testing.T) {
	f := newFixture(t)

	boom := errors.New("network down")
	f.dispatchFn = func(context.Context, Descriptor) error { return boom }

	err := f.orch.Run(context.Background(), Request{OperationKind: "save", Label: "Saving"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.tracker.ActiveCount())
	assert.True(t, f.guard.IsNavigationSafe())
}

func TestRun_ReleasesOnDispatchPanic(t *testing.T) {
	f := newFixture(t)

	f.dispatchFn = func(context.Context, Descriptor) error { panic("dispatcher exploded") }

	assert.Panics(t, func() {
		_ = f.orch.Run(context.Background(), Request{OperationKind: "save", Label: "Saving"})
	})
	assert.Equal(t, 0, f.tracker.ActiveCount())
	assert.True(t, f.guard.IsNavigationSafe())
}

func TestRun_ConfirmedActionWaitsForConfirmation(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Run(context.Background(), Request{
		OperationKind:   "delete",
		Label:           "Deleting connection",
		ConfirmActionID: "DELETE_CONNECTION",
		TargetLabel:     "conn-42",
	}))
	assert.Empty(t, f.dispatched, "nothing dispatched before confirmation")

	require.NoError(t, f.orch.ExecuteConfirmed())
	require.Len(t, f.dispatched, 1)
	assert.Equal(t, confirm.StateIdle, f.gate.State(), "dialog closed after execution")
	assert.True(t, f.guard.IsNavigationSafe())
}

func TestRun_UnknownConfirmActionDropsRequest(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Run(context.Background(), Request{
		ConfirmActionID: "RETIRED",
		Label:           "x",
	}))
	assert.Empty(t, f.dispatched)
	assert.Equal(t, confirm.StateIdle, f.gate.State())
}

func TestRun_WorkflowStepBracketsDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.StartWorkflow(ctx, "publish"))

	require.NoError(t, f.orch.Run(ctx, Request{
		OperationKind:  "save",
		Label:          "Drafting",
		WorkflowStepID: "draft",
	}))

	s := f.engine.Session()
	assert.Equal(t, workflow.StepCompleted, s.Steps["draft"].Status)
}

func TestRun_WorkflowStepFailureRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.StartWorkflow(ctx, "publish"))

	boom := errors.New("draft service down")
	f.dispatchFn = func(context.Context, Descriptor) error { return boom }

	err := f.orch.Run(ctx, Request{OperationKind: "save", Label: "Drafting", WorkflowStepID: "draft"})
	assert.ErrorIs(t, err, boom)

	s := f.engine.Session()
	assert.Equal(t, workflow.StepFailed, s.Steps["draft"].Status)
	assert.Equal(t, "draft service down", s.Steps["draft"].Error)
}

func TestRun_OutOfOrderStepFailsBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.StartWorkflow(ctx, "publish"))

	err := f.orch.Run(ctx, Request{OperationKind: "save", Label: "Reviewing", WorkflowStepID: "review"})
	assert.True(t, workflow.IsViolation(err))
	assert.Empty(t, f.dispatched, "the effect must not run when ordering is violated")
	assert.Equal(t, 0, f.tracker.ActiveCount())
}

func TestCancelOperation_ForwardsIntent(t *testing.T) {
	f := newFixture(t)

	canceled := false
	require.NoError(t, f.tracker.StartTracking("op-x", "save", track.Options{
		OnCancel: func() { canceled = true },
	}))

	f.orch.CancelOperation("op-x")
	assert.True(t, canceled)
	assert.Equal(t, 0, f.tracker.ActiveCount())
}

func TestRetryOperation_ForwardsIntent(t *testing.T) {
	f := newFixture(t)

	retried := false
	require.NoError(t, f.tracker.StartTracking("op-x", "save", track.Options{
		OnRetry: func() { retried = true },
	}))

	f.orch.RetryOperation("op-x")
	assert.True(t, retried)
	assert.Equal(t, 0, f.tracker.ActiveCount(), "retry does not restart tracking")
}
