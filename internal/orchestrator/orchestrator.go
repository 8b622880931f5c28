// Package orchestrator composes the confirmation gate, time tracker,
// navigation guard and workflow engine around the host's execution
// dispatcher.
//
// The nesting order is fixed: confirmation (when the action is
// irreversible) wraps tracking, tracking and the navigation blocker wrap
// dispatch, and workflow step transitions bracket the dispatch itself.
// The orchestrator never performs the effect - the injected Dispatcher
// does - and it never inspects the action's result beyond success or
// failure.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"vigil/internal/confirm"
	"vigil/internal/guard"
	"vigil/internal/ident"
	"vigil/internal/track"
	"vigil/internal/workflow"
)

// Descriptor is what the external dispatcher receives: the operation's
// identity plus the caller-supplied action closure that performs the
// actual effect.
type Descriptor struct {
	OperationID   string
	OperationKind string
	Label         string
	Action        func(context.Context) error
}

// Dispatcher performs the user's request and owns success/error
// feedback. External collaborator; the engine only wraps around it.
type Dispatcher interface {
	Execute(ctx context.Context, d Descriptor) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, d Descriptor) error

// Execute implements Dispatcher.
func (f DispatcherFunc) Execute(ctx context.Context, d Descriptor) error { return f(ctx, d) }

// Request describes one governed action.
type Request struct {
	// OperationID keys tracking and cancellation. Generated when empty.
	OperationID string

	// OperationKind selects the time-expectation profile.
	OperationKind string

	// Label names the operation in blockers and notices.
	Label string

	// ConfirmActionID, when set, routes the request through the
	// confirmation gate first; the effect runs only after the user
	// confirms. The id must name a registered ActionDefinition.
	ConfirmActionID string

	// TargetLabel names the item the irreversible action applies to.
	TargetLabel string

	// WorkflowStepID, when set, brackets dispatch with workflow step
	// transitions: advance before, complete on success, fail on error.
	WorkflowStepID string

	// Action is the caller-supplied effect, passed through to the
	// dispatcher untouched.
	Action func(context.Context) error

	// Abort interrupts the in-flight action on cancel. Optional.
	Abort func()

	// OnCancel and OnRetry forward the user's escalation-dialog intents.
	OnCancel func()
	OnRetry  func()
}

// Orchestrator wires the four governance subsystems around the
// dispatcher.
type Orchestrator struct {
	gate       *confirm.Gate
	tracker    *track.Tracker
	guard      *guard.Guard
	engine     *workflow.Engine
	dispatcher Dispatcher
	idGen      ident.Generator
	logger     *slog.Logger
}

// New creates an orchestrator. logger may be nil.
func New(
	gate *confirm.Gate,
	tracker *track.Tracker,
	g *guard.Guard,
	engine *workflow.Engine,
	dispatcher Dispatcher,
	idGen ident.Generator,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gate:       gate,
		tracker:    tracker,
		guard:      g,
		engine:     engine,
		dispatcher: dispatcher,
		idGen:      idGen,
		logger:     logger,
	}
}

// Run executes one governed request.
//
// Unconfirmed requests dispatch immediately. Confirmed requests open a
// confirmation session and return; the effect runs when the host calls
// ExecuteConfirmed after the user validates the session.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	if req.ConfirmActionID != "" {
		return o.gate.RequestConfirmation(req.ConfirmActionID, req.TargetLabel, func() error {
			return o.execute(ctx, req)
		})
	}
	return o.execute(ctx, req)
}

// ExecuteConfirmed runs the pending confirmed action. Delegates to the
// gate, which enforces validity and closes the dialog on every outcome.
func (o *Orchestrator) ExecuteConfirmed() error {
	return o.gate.ExecuteAction()
}

// CancelOperation forwards a cancel intent for a tracked operation.
func (o *Orchestrator) CancelOperation(operationID string) {
	o.tracker.CancelOperation(operationID)
}

// RetryOperation forwards a retry intent. The retried attempt must be
// re-submitted through Run by the caller's OnRetry hook.
func (o *Orchestrator) RetryOperation(operationID string) {
	o.tracker.RetryOperation(operationID)
}

// execute performs the tracked, navigation-guarded dispatch.
func (o *Orchestrator) execute(ctx context.Context, req Request) error {
	opID := req.OperationID
	if opID == "" {
		opID = o.idGen.NewID()
	}

	// Workflow ordering is validated before any effect happens: an
	// out-of-order step must fail fast, not after the action ran.
	if req.WorkflowStepID != "" {
		if err := o.engine.AdvanceStep(ctx, req.WorkflowStepID, nil); err != nil {
			return err
		}
	}

	if err := o.tracker.StartTracking(opID, req.OperationKind, track.Options{
		Abort:    req.Abort,
		OnCancel: req.OnCancel,
		OnRetry:  req.OnRetry,
	}); err != nil {
		return err
	}
	blockerID := o.guard.RegisterBlocker(guard.BlockerConfig{
		Kind:             guard.KindOperationInProgress,
		Label:            req.Label,
		Description:      fmt.Sprintf("%s is still running", req.Label),
		CanForceNavigate: req.Abort != nil,
		Priority:         blockerPriority(req),
	})

	// Release on every path, including a panicking dispatcher. The
	// tracker and guard entries are owned here and nowhere else.
	defer func() {
		o.tracker.CompleteTracking(opID)
		o.guard.UnregisterBlocker(blockerID)
	}()

	err := o.dispatcher.Execute(ctx, Descriptor{
		OperationID:   opID,
		OperationKind: req.OperationKind,
		Label:         req.Label,
		Action:        req.Action,
	})

	if req.WorkflowStepID != "" {
		if err != nil {
			if failErr := o.engine.FailStep(ctx, req.WorkflowStepID, err.Error()); failErr != nil {
				o.logger.Warn("failed to record step failure", "step", req.WorkflowStepID, "error", failErr)
			}
		} else if completeErr := o.engine.CompleteStep(ctx, req.WorkflowStepID, nil); completeErr != nil {
			return completeErr
		}
	}
	return err
}

// blockerPriority ranks operation blockers above plain unsaved-changes
// entries, and confirmed irreversible work above the rest.
func blockerPriority(req Request) int {
	if req.ConfirmActionID != "" {
		return 20
	}
	return 10
}
