package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"vigil/internal/compiler"
	"vigil/internal/confirm"
	"vigil/internal/def"
	"vigil/internal/guard"
	"vigil/internal/ident"
	"vigil/internal/orchestrator"
	"vigil/internal/store"
	"vigil/internal/testutil"
	"vigil/internal/track"
	"vigil/internal/workflow"
)

// Harness is the scenario execution engine.
// It wires every runtime component over a fake scheduler so time only
// passes when a scenario step advances it.
type Harness struct {
	registry *def.Registry
	sched    *testutil.FakeScheduler
	kv       *store.Memory
	engine   *workflow.Engine
	tracker  *track.Tracker
	guard    *guard.Guard
	gate     *confirm.Gate
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger

	result   *Result
	seq      int64
	blockers map[string]string // label -> blocker id, for unregister_blocker
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory session store and a fake
// scheduler for isolation and reproducibility.
func Run(scenario *Scenario) (*Result, error) {
	registry, err := compileDefs(scenario.Defs)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definitions: %w", err)
	}

	h := newHarness(registry)
	ctx := context.Background()

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

func newHarness(registry *def.Registry) *Harness {
	// Fixed epoch; scenarios advance time explicitly.
	sched := testutil.NewFakeScheduler(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	kv := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	h := &Harness{
		registry: registry,
		sched:    sched,
		kv:       kv,
		logger:   logger,
		result:   NewResult(),
		blockers: make(map[string]string),
	}

	h.engine = workflow.NewEngine(registry, kv, sched, logger)
	h.tracker = track.New(registry, sched, track.NotifierFunc(h.recordNotice), logger)
	h.guard = guard.New(ident.NewSequenceGenerator("blk"), sched, logger)
	h.gate = confirm.New(registry, sched, h.recordGateChange, logger)
	h.orch = orchestrator.New(h.gate, h.tracker, h.guard, h.engine, orchestrator.DispatcherFunc(h.dispatch), ident.NewSequenceGenerator("op"), logger)

	return h
}

// executeStep runs one scenario step and reconciles its error against
// the expect_error clause.
func (h *Harness) executeStep(ctx context.Context, index int, step Step) {
	err := h.invoke(ctx, step)

	if err != nil {
		h.addEvent("error", map[string]any{"op": step.Op, "message": err.Error()})
	}

	switch {
	case err != nil && step.ExpectError == "":
		h.result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", index, step.Op, err))
	case err == nil && step.ExpectError != "":
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", index, step.Op, step.ExpectError))
	case err != nil && !strings.Contains(err.Error(), step.ExpectError):
		h.result.AddError(fmt.Sprintf("steps[%d] %s: error %q does not contain %q", index, step.Op, err.Error(), step.ExpectError))
	}
}

// invoke maps a step op onto the corresponding engine operation.
func (h *Harness) invoke(ctx context.Context, step Step) error {
	switch step.Op {
	case OpStartWorkflow:
		return h.engine.StartWorkflow(ctx, step.Contract)
	case OpAdvanceStep:
		return h.engine.AdvanceStep(ctx, step.StepID, nil)
	case OpCompleteStep:
		return h.engine.CompleteStep(ctx, step.StepID, nil)
	case OpFailStep:
		return h.engine.FailStep(ctx, step.StepID, step.Message)
	case OpRevertStep:
		return h.engine.RevertStep(ctx, step.StepID)
	case OpCompleteWorkflow:
		return h.engine.CompleteWorkflow(ctx)
	case OpAbandonWorkflow:
		return h.engine.AbandonWorkflow(ctx)
	case OpRun:
		return h.orch.Run(ctx, h.buildRequest(step))
	case OpStartTracking:
		if err := h.tracker.StartTracking(step.OperationID, step.Kind, h.trackHooks(step)); err != nil {
			return err
		}
		h.addEvent("track", map[string]any{"operation_id": step.OperationID, "kind": step.Kind})
		return nil
	case OpCompleteTracking:
		h.tracker.CompleteTracking(step.OperationID)
		return nil
	case OpExecuteConfirmed:
		return h.orch.ExecuteConfirmed()
	case OpRequestConfirmation:
		return h.gate.RequestConfirmation(step.Action, step.Target, func() error {
			h.addEvent("confirmed", map[string]any{"action": step.Action})
			return nil
		})
	case OpSetPhrase:
		h.gate.SetPhraseInput(step.Phrase)
		return nil
	case OpSetAcknowledged:
		h.gate.SetAcknowledged(step.Ack)
		return nil
	case OpCloseDialog:
		h.gate.CloseDialog()
		return nil
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		h.sched.Advance(d)
		return nil
	case OpCancelOperation:
		h.orch.CancelOperation(step.OperationID)
		return nil
	case OpRetryOperation:
		h.orch.RetryOperation(step.OperationID)
		return nil
	case OpRegisterBlocker:
		id := h.guard.RegisterBlocker(guard.BlockerConfig{
			Kind:     blockerKind(step.BlockerKind),
			Label:    step.Label,
			Priority: step.Priority,
		})
		h.blockers[step.Label] = id
		h.addEvent("blocker", map[string]any{"label": step.Label, "registered": true})
		return nil
	case OpUnregisterBlocker:
		id, ok := h.blockers[step.Label]
		if !ok {
			return fmt.Errorf("no registered blocker labeled %q", step.Label)
		}
		delete(h.blockers, step.Label)
		h.guard.UnregisterBlocker(id)
		h.addEvent("blocker", map[string]any{"label": step.Label, "registered": false})
		return nil
	case OpAttemptNavigation:
		allowed := h.guard.AttemptNavigation(func() {
			h.addEvent("navigate", nil)
		})
		h.addEvent("navigation", map[string]any{"allowed": allowed})
		return nil
	case OpForceNavigation:
		h.guard.ForceNavigation()
		return nil
	case OpCancelNavigation:
		h.guard.CancelNavigation()
		return nil
	case OpSnapshot:
		h.addEvent("workflow", h.workflowDetail())
		return nil
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// buildRequest maps a run step onto an orchestrator request, wiring the
// intent hooks so every downstream effect lands in the trace.
func (h *Harness) buildRequest(step Step) orchestrator.Request {
	hooks := h.trackHooks(step)
	req := orchestrator.Request{
		OperationID:     step.OperationID,
		OperationKind:   step.Kind,
		Label:           step.Label,
		ConfirmActionID: step.Action,
		TargetLabel:     step.Target,
		WorkflowStepID:  step.StepID,
		Abort:           hooks.Abort,
		OnCancel:        hooks.OnCancel,
		OnRetry:         hooks.OnRetry,
	}
	if step.Fail != "" {
		msg := step.Fail
		req.Action = func(context.Context) error { return fmt.Errorf("%s", msg) }
	}
	return req
}

// trackHooks wires a step's cancellation affordances to trace events.
func (h *Harness) trackHooks(step Step) track.Options {
	opts := track.Options{
		OnCancel: func() {
			h.addEvent("cancel", map[string]any{"operation_id": step.OperationID})
		},
		OnRetry: func() {
			h.addEvent("retry", map[string]any{"operation_id": step.OperationID})
		},
	}
	if step.Abortable {
		opts.Abort = func() {
			h.addEvent("abort", map[string]any{"operation_id": step.OperationID})
		}
	}
	return opts
}

// dispatch is the harness's stand-in for the host's execution layer: it
// records the dispatch and runs the step-supplied effect, if any.
func (h *Harness) dispatch(ctx context.Context, d orchestrator.Descriptor) error {
	h.addEvent("dispatch", map[string]any{
		"operation_id": d.OperationID,
		"kind":         d.OperationKind,
		"label":        d.Label,
	})
	if d.Action != nil {
		return d.Action(ctx)
	}
	return nil
}

// recordNotice traces tracker escalations.
func (h *Harness) recordNotice(n track.Notice) {
	h.addEvent("notice", map[string]any{
		"operation_id": n.OperationID,
		"kind":         n.Kind,
		"level":        n.Level.String(),
		"elapsed_ms":   n.Elapsed.Milliseconds(),
		"label":        n.Label,
	})
}

// recordGateChange traces every observable confirmation change.
func (h *Harness) recordGateChange() {
	detail := map[string]any{"state": h.gate.State().String()}
	if s, ok := h.gate.Session(); ok {
		detail["action"] = s.Action.ID
		detail["cooldown_remaining"] = s.CooldownRemaining
		detail["acknowledged"] = s.Acknowledged
	}
	h.addEvent("confirm", detail)
}

func (h *Harness) addEvent(kind string, detail map[string]any) {
	h.seq++
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Seq:    h.seq,
		Kind:   kind,
		Detail: detail,
	})
}

// workflowDetail snapshots the active session's step states.
func (h *Harness) workflowDetail() map[string]any {
	s := h.engine.Session()
	detail := map[string]any{
		"contract": s.ContractID,
		"active":   s.Active(),
	}
	steps := make(map[string]any, len(s.Steps))
	for id, st := range s.Steps {
		steps[id] = map[string]any{
			"status":      string(st.Status),
			"completions": st.Completions,
		}
	}
	if len(steps) > 0 {
		detail["steps"] = steps
	}
	return detail
}

// compileDefs compiles and unifies the scenario's CUE definition files
// into a validated registry.
func compileDefs(paths []string) (*def.Registry, error) {
	ctx := cuecontext.New()
	pack := ctx.CompileString("{}")
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition file: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, err
		}
		pack = pack.Unify(v)
	}
	if err := pack.Err(); err != nil {
		return nil, err
	}
	return compiler.CompileRegistry(pack)
}

func blockerKind(kind string) guard.BlockerKind {
	switch kind {
	case "":
		return guard.KindCustom
	default:
		return guard.BlockerKind(kind)
	}
}

