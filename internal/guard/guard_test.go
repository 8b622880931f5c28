package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/ident"
	"vigil/internal/testutil"
)

func setupGuard(t *testing.T) (*Guard, *testutil.FakeScheduler) {
	t.Helper()
	sched := testutil.NewFakeScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(ident.NewSequenceGenerator("blk"), sched, nil), sched
}

func TestGuard_EmptyRegistryIsSafe(t *testing.T) {
	g, _ := setupGuard(t)
	assert.True(t, g.IsNavigationSafe())
	assert.Empty(t, g.ActiveBlockers())
}

func TestGuard_RegisterThenUnregisterRoundTrip(t *testing.T) {
	g, _ := setupGuard(t)

	id := g.RegisterBlocker(BlockerConfig{Kind: KindUnsavedChanges, Label: "Unsaved form"})
	assert.False(t, g.IsNavigationSafe())

	g.UnregisterBlocker(id)
	assert.True(t, g.IsNavigationSafe(), "register-then-unregister is a safety no-op")
}

func TestGuard_TwoIndependentCallers(t *testing.T) {
	g, _ := setupGuard(t)

	saveForm := g.RegisterBlocker(BlockerConfig{Kind: KindUnsavedChanges, Label: "save-form"})
	uploadJob := g.RegisterBlocker(BlockerConfig{Kind: KindOperationInProgress, Label: "upload-job"})
	require.NotEqual(t, saveForm, uploadJob, "each caller owns a fresh id")

	g.UnregisterBlocker(saveForm)
	assert.False(t, g.IsNavigationSafe(), "the other caller's blocker remains")

	g.UnregisterBlocker(uploadJob)
	assert.True(t, g.IsNavigationSafe())
}

func TestGuard_UnregisterAbsentIDIsNoOp(t *testing.T) {
	g, _ := setupGuard(t)
	id := g.RegisterBlocker(BlockerConfig{Label: "x"})

	g.UnregisterBlocker("never-issued")
	assert.False(t, g.IsNavigationSafe())
	g.UnregisterBlocker(id)
	g.UnregisterBlocker(id) // second removal is idempotent
	assert.True(t, g.IsNavigationSafe())
}

func TestGuard_ActiveBlockersSortedByPriority(t *testing.T) {
	g, sched := setupGuard(t)

	g.RegisterBlocker(BlockerConfig{Label: "low", Priority: 1})
	sched.Advance(time.Second)
	g.RegisterBlocker(BlockerConfig{Label: "high", Priority: 10})
	sched.Advance(time.Second)
	g.RegisterBlocker(BlockerConfig{Label: "mid-late", Priority: 5})
	sched.Advance(time.Second)
	g.RegisterBlocker(BlockerConfig{Label: "mid-early", Priority: 5})

	got := g.ActiveBlockers()
	require.Len(t, got, 4)
	assert.Equal(t, "high", got[0].Label)
	assert.Equal(t, "mid-late", got[1].Label, "equal priority orders by creation time")
	assert.Equal(t, "mid-early", got[2].Label)
	assert.Equal(t, "low", got[3].Label)
}

func TestGuard_AttemptNavigation_SafeInvokesImmediately(t *testing.T) {
	g, _ := setupGuard(t)

	navigated := false
	ok := g.AttemptNavigation(func() { navigated = true })
	assert.True(t, ok)
	assert.True(t, navigated)
	assert.False(t, g.HasPendingNavigation())
}

func TestGuard_AttemptNavigation_UnsafeDefers(t *testing.T) {
	g, _ := setupGuard(t)
	g.RegisterBlocker(BlockerConfig{Label: "busy"})

	navigated := false
	ok := g.AttemptNavigation(func() { navigated = true })
	assert.False(t, ok)
	assert.False(t, navigated, "callback deferred until a decision")
	assert.True(t, g.HasPendingNavigation())
}

func TestGuard_ForceNavigation_InvokesExactlyOnce(t *testing.T) {
	g, _ := setupGuard(t)
	g.RegisterBlocker(BlockerConfig{Label: "busy"})

	calls := 0
	g.AttemptNavigation(func() { calls++ })

	g.ForceNavigation()
	assert.Equal(t, 1, calls)
	assert.False(t, g.HasPendingNavigation())

	// A second force has nothing to run.
	g.ForceNavigation()
	assert.Equal(t, 1, calls)
}

func TestGuard_ForceNavigation_PanickingCallbackClearsPending(t *testing.T) {
	g, _ := setupGuard(t)
	g.RegisterBlocker(BlockerConfig{Label: "busy"})

	calls := 0
	g.AttemptNavigation(func() {
		calls++
		panic("navigation handler exploded")
	})

	assert.Panics(t, func() { g.ForceNavigation() })
	assert.Equal(t, 1, calls)
	assert.False(t, g.HasPendingNavigation(), "panic must not leave pending state stuck")

	g.ForceNavigation()
	assert.Equal(t, 1, calls, "callback never runs twice")
}

func TestGuard_CancelNavigation_DiscardsWithoutInvoking(t *testing.T) {
	g, _ := setupGuard(t)
	g.RegisterBlocker(BlockerConfig{Label: "busy"})

	navigated := false
	g.AttemptNavigation(func() { navigated = true })
	g.CancelNavigation()

	assert.False(t, navigated)
	assert.False(t, g.HasPendingNavigation())
	g.ForceNavigation()
	assert.False(t, navigated, "canceled callback is gone")
}

func TestGuard_NewerAttemptReplacesPending(t *testing.T) {
	g, _ := setupGuard(t)
	g.RegisterBlocker(BlockerConfig{Label: "busy"})

	var ran []string
	g.AttemptNavigation(func() { ran = append(ran, "old") })
	g.AttemptNavigation(func() { ran = append(ran, "new") })

	g.ForceNavigation()
	assert.Equal(t, []string{"new"}, ran, "latest intent wins, older callback dropped")
}

type fakeUnloadBinder struct {
	predicate func() (string, bool)
}

func (f *fakeUnloadBinder) OnBeforeUnload(p func() (string, bool)) { f.predicate = p }

type fakeRouteBinder struct {
	predicate func() bool
}

func (f *fakeRouteBinder) OnRouteChange(p func() bool) { f.predicate = p }

func TestGuard_UnloadHook(t *testing.T) {
	g, _ := setupGuard(t)
	binder := &fakeUnloadBinder{}
	g.BindUnload(binder)
	require.NotNil(t, binder.predicate)

	msg, block := binder.predicate()
	assert.False(t, block)
	assert.Empty(t, msg)

	id := g.RegisterBlocker(BlockerConfig{Label: "Upload in progress", Priority: 5})
	g.RegisterBlocker(BlockerConfig{Label: "Unsaved changes", Priority: 1})

	msg, block = binder.predicate()
	assert.True(t, block)
	assert.Equal(t, "Upload in progress (and 1 more). Leave anyway?", msg)

	g.UnregisterBlocker(id)
	msg, block = binder.predicate()
	assert.True(t, block)
	assert.Equal(t, "Unsaved changes. Leave anyway?", msg)
}

func TestGuard_RouteHook(t *testing.T) {
	g, _ := setupGuard(t)
	binder := &fakeRouteBinder{}
	g.BindRoute(binder)
	require.NotNil(t, binder.predicate)

	assert.False(t, binder.predicate())
	id := g.RegisterBlocker(BlockerConfig{Label: "busy"})
	assert.True(t, binder.predicate())
	g.UnregisterBlocker(id)
	assert.False(t, binder.predicate())
}
