package workflow

import (
	"time"

	"vigil/internal/def"
)

// ActionKind tags the transition union.
type ActionKind int

const (
	// ActionStart begins a workflow, initializing every step to PENDING.
	ActionStart ActionKind = iota + 1
	// ActionAdvance moves a step to IN_PROGRESS after ordering checks.
	ActionAdvance
	// ActionComplete records one completion of an IN_PROGRESS step.
	ActionComplete
	// ActionFail marks a step FAILED with an error message.
	ActionFail
	// ActionRevert resets a revertible step to its initial PENDING state.
	ActionRevert
	// ActionFinish completes the workflow once required steps are done.
	ActionFinish
)

// Action is one requested transition. Exactly the fields its kind needs
// are set; the rest stay zero.
type Action struct {
	Kind   ActionKind
	StepID string
	Data   map[string]any
	Err    string

	// At stamps StartedAt / CompletedAt. Supplied by the engine from its
	// scheduler so the reducer itself stays pure.
	At time.Time
}

// Apply is the pure transition function over workflow sessions.
//
// Given the immutable contract, the current session, and one action, it
// returns the next session or a *ViolationError. The input session is
// never mutated.
func Apply(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	switch a.Kind {
	case ActionStart:
		return applyStart(contract, a), nil
	case ActionAdvance:
		return applyAdvance(contract, s, a)
	case ActionComplete:
		return applyComplete(contract, s, a)
	case ActionFail:
		return applyFail(contract, s, a)
	case ActionRevert:
		return applyRevert(contract, s, a)
	case ActionFinish:
		return applyFinish(contract, s, a)
	default:
		return s, violationf(ErrCodeNoActiveWorkflow, contract.ID, "", "unknown action kind %d", a.Kind)
	}
}

func applyStart(contract def.WorkflowContract, a Action) Session {
	s := Session{
		ContractID:  contract.ID,
		CurrentStep: 0,
		Steps:       make(map[string]StepState, len(contract.Steps)),
		StartedAt:   a.At,
	}
	for _, step := range contract.Steps {
		s.Steps[step.ID] = StepState{Status: StepPending}
	}
	return s
}

func applyAdvance(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	idx, ok := contract.StepIndex(a.StepID)
	if !ok {
		return s, violationf(ErrCodeUnknownStep, contract.ID, a.StepID, "step %s is not part of contract %s", a.StepID, contract.ID)
	}

	// Every required step declared before this one must be COMPLETED.
	for i := 0; i < idx; i++ {
		prior := contract.Steps[i]
		if !prior.Required {
			continue
		}
		if s.Steps[prior.ID].Status != StepCompleted {
			return s, violationf(ErrCodeStepOrder, contract.ID, a.StepID,
				"cannot advance to %s: required step %s is %s", a.StepID, prior.ID, s.Steps[prior.ID].Status)
		}
	}

	next := s.clone()
	st := next.Steps[a.StepID]
	st.Status = StepInProgress
	st.mergeData(a.Data)
	next.Steps[a.StepID] = st
	next.CurrentStep = idx
	return next, nil
}

func applyComplete(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	stepDef, ok := contract.Step(a.StepID)
	if !ok {
		return s, violationf(ErrCodeUnknownStep, contract.ID, a.StepID, "step %s is not part of contract %s", a.StepID, contract.ID)
	}
	if s.Steps[a.StepID].Status != StepInProgress {
		return s, violationf(ErrCodeStepNotInProgress, contract.ID, a.StepID,
			"cannot complete step %s: status is %s, want %s", a.StepID, s.Steps[a.StepID].Status, StepInProgress)
	}

	next := s.clone()
	st := next.Steps[a.StepID]
	st.Completions++
	st.mergeData(a.Data)

	if st.Completions < stepDef.MinCompletions {
		// Still short of the completion quota. Repeatable steps stay
		// IN_PROGRESS; others must be advanced again by the caller.
		if stepDef.Repeatable {
			st.Status = StepInProgress
		} else {
			st.Status = StepPending
		}
	} else {
		st.Status = StepCompleted
	}

	next.Steps[a.StepID] = st
	return next, nil
}

func applyFail(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	if _, ok := contract.Step(a.StepID); !ok {
		return s, violationf(ErrCodeUnknownStep, contract.ID, a.StepID, "step %s is not part of contract %s", a.StepID, contract.ID)
	}

	next := s.clone()
	st := next.Steps[a.StepID]
	st.Status = StepFailed
	st.Error = a.Err
	next.Steps[a.StepID] = st
	return next, nil
}

func applyRevert(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	stepDef, ok := contract.Step(a.StepID)
	if !ok {
		return s, violationf(ErrCodeUnknownStep, contract.ID, a.StepID, "step %s is not part of contract %s", a.StepID, contract.ID)
	}
	if !stepDef.CanRevert {
		return s, violationf(ErrCodeStepNotRevertible, contract.ID, a.StepID, "step %s does not allow revert", a.StepID)
	}

	next := s.clone()
	// Full reset: status, data, error and completion count all clear.
	next.Steps[a.StepID] = StepState{Status: StepPending}
	return next, nil
}

func applyFinish(contract def.WorkflowContract, s Session, a Action) (Session, error) {
	for _, step := range contract.Steps {
		if !step.Required {
			continue
		}
		if s.Steps[step.ID].Status != StepCompleted {
			return s, violationf(ErrCodeRequiredIncomplete, contract.ID, step.ID,
				"cannot complete workflow: required step %s is %s", step.ID, s.Steps[step.ID].Status)
		}
	}

	next := s.clone()
	at := a.At
	next.CompletedAt = &at
	return next, nil
}
