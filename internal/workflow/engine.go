package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vigil/internal/clock"
	"vigil/internal/def"
	"vigil/internal/store"
)

// SessionKey is the fixed KV key the active session persists under.
const SessionKey = "workflow/session/v1"

// Engine runs workflow sessions against contracts from the registry.
//
// Every successful mutation is persisted to the KV store before the call
// returns, so a crashed client can Restore on next start.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized by an internal mutex; the reducer itself stays pure.
type Engine struct {
	registry *def.Registry
	kv       store.KV
	sched    clock.Scheduler
	logger   *slog.Logger

	mu       sync.Mutex
	contract def.WorkflowContract
	session  Session
}

// NewEngine creates a workflow engine. logger may be nil.
func NewEngine(registry *def.Registry, kv store.KV, sched clock.Scheduler, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		kv:       kv,
		sched:    sched,
		logger:   logger,
	}
}

// StartWorkflow begins a session for the given contract.
//
// Fails with UNKNOWN_CONTRACT if the contract is not registered and with
// WORKFLOW_ACTIVE if another uncompleted workflow is running; the caller
// must abandon or complete the active one first.
func (e *Engine) StartWorkflow(ctx context.Context, contractID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	contract, ok := e.registry.Contract(contractID)
	if !ok {
		return violationf(ErrCodeUnknownContract, contractID, "", "contract %s is not registered", contractID)
	}
	if e.session.Active() && !e.session.Completed() {
		return violationf(ErrCodeWorkflowActive, e.session.ContractID, "",
			"workflow %s is active; abandon or complete it before starting %s", e.session.ContractID, contractID)
	}

	next, err := Apply(contract, Session{}, Action{Kind: ActionStart, At: e.sched.Now()})
	if err != nil {
		return err
	}
	if err := e.persist(ctx, next); err != nil {
		return err
	}

	e.contract = contract
	e.session = next
	e.logger.Debug("workflow started", "contract", contractID)
	return nil
}

// AdvanceStep moves a step to IN_PROGRESS, merging any provided data.
func (e *Engine) AdvanceStep(ctx context.Context, stepID string, data map[string]any) error {
	return e.apply(ctx, Action{Kind: ActionAdvance, StepID: stepID, Data: data})
}

// CompleteStep records one completion of an IN_PROGRESS step.
func (e *Engine) CompleteStep(ctx context.Context, stepID string, data map[string]any) error {
	return e.apply(ctx, Action{Kind: ActionComplete, StepID: stepID, Data: data})
}

// FailStep marks a step FAILED with the given message.
func (e *Engine) FailStep(ctx context.Context, stepID, errMsg string) error {
	return e.apply(ctx, Action{Kind: ActionFail, StepID: stepID, Err: errMsg})
}

// RevertStep resets a revertible step to its initial PENDING state.
func (e *Engine) RevertStep(ctx context.Context, stepID string) error {
	return e.apply(ctx, Action{Kind: ActionRevert, StepID: stepID})
}

// CompleteWorkflow records workflow completion once every required step
// is COMPLETED.
func (e *Engine) CompleteWorkflow(ctx context.Context) error {
	return e.apply(ctx, Action{Kind: ActionFinish})
}

// AbandonWorkflow discards the active session and its persisted state.
// Abandoning with no active workflow is a no-op.
func (e *Engine) AbandonWorkflow(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Active() {
		return nil
	}
	if err := e.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("abandon workflow: %w", err)
	}

	e.logger.Debug("workflow abandoned", "contract", e.session.ContractID)
	e.contract = def.WorkflowContract{}
	e.session = Session{}
	return nil
}

// Session returns a snapshot of the current session.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Contract returns the active contract, if any.
func (e *Engine) Contract() (def.WorkflowContract, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contract, e.session.Active()
}

// Restore loads the persisted session, replaying only steps recorded as
// COMPLETED. Steps that were IN_PROGRESS, FAILED or SKIPPED at crash
// time reset to PENDING - the session resumes from the last known good
// step. Unreadable or stale persisted state is dropped with a warning,
// never an error: a corrupt session must not brick the client.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, ok, err := e.kv.Get(ctx, SessionKey)
	if err != nil {
		return fmt.Errorf("restore workflow: %w", err)
	}
	if !ok {
		return nil
	}

	persisted, err := unmarshalSession(data)
	if err != nil {
		e.logger.Warn("dropping unreadable persisted session", "error", err)
		return e.discardPersisted(ctx)
	}

	contract, ok := e.registry.Contract(persisted.ContractID)
	if !ok {
		e.logger.Warn("dropping persisted session for unknown contract", "contract", persisted.ContractID)
		return e.discardPersisted(ctx)
	}

	restored, err := Apply(contract, Session{}, Action{Kind: ActionStart, At: persisted.StartedAt})
	if err != nil {
		return err
	}
	restored.StartedAt = persisted.StartedAt

	lastGood := 0
	for i, step := range contract.Steps {
		st, ok := persisted.Steps[step.ID]
		if !ok || st.Status != StepCompleted {
			continue
		}
		restored.Steps[step.ID] = st.clone()
		lastGood = i
	}
	restored.CurrentStep = lastGood
	if persisted.Completed() {
		restored.CompletedAt = persisted.CompletedAt
	}

	if err := e.persist(ctx, restored); err != nil {
		return err
	}

	e.contract = contract
	e.session = restored
	e.logger.Debug("workflow restored", "contract", contract.ID, "current_step", lastGood)
	return nil
}

// apply runs one step-level action through the reducer and persists the
// result before committing it in memory.
func (e *Engine) apply(ctx context.Context, a Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Active() {
		return violationf(ErrCodeNoActiveWorkflow, "", a.StepID, "no active workflow")
	}

	a.At = e.sched.Now()
	next, err := Apply(e.contract, e.session, a)
	if err != nil {
		return err
	}
	if err := e.persist(ctx, next); err != nil {
		return err
	}

	e.session = next
	return nil
}

func (e *Engine) persist(ctx context.Context, s Session) error {
	data, err := marshalSession(s)
	if err != nil {
		return err
	}
	if err := e.kv.Set(ctx, SessionKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (e *Engine) discardPersisted(ctx context.Context) error {
	if err := e.kv.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("discard persisted session: %w", err)
	}
	return nil
}
