package workflow

import "time"

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
)

// StepState is the mutable state of one step within a session.
type StepState struct {
	Status StepStatus `json:"status"`

	// Data is caller-supplied step payload, merged across advance and
	// complete calls. Opaque to the engine.
	Data map[string]any `json:"data,omitempty"`

	// Error holds the failure message when Status is FAILED.
	Error string `json:"error,omitempty"`

	// Completions counts how many times the step completed. A step is
	// COMPLETED only once Completions reaches the definition's
	// MinCompletions.
	Completions int `json:"completions"`
}

// Session is the live state of one workflow run. Mutated only through
// Apply; the zero Session means no workflow is active.
type Session struct {
	// ContractID names the active contract, "" when idle.
	ContractID string `json:"contract_id"`

	// CurrentStep is the index of the most recently advanced step.
	CurrentStep int `json:"current_step"`

	// Steps maps step id to its state. Every contract step has an entry
	// from the moment the workflow starts.
	Steps map[string]StepState `json:"steps"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether a workflow is currently running.
func (s Session) Active() bool {
	return s.ContractID != ""
}

// Completed reports whether the workflow has been completed.
func (s Session) Completed() bool {
	return s.CompletedAt != nil
}

// clone returns a deep copy so Apply never aliases caller-visible state.
func (s Session) clone() Session {
	out := s
	out.Steps = make(map[string]StepState, len(s.Steps))
	for id, st := range s.Steps {
		out.Steps[id] = st.clone()
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func (st StepState) clone() StepState {
	out := st
	if st.Data != nil {
		out.Data = make(map[string]any, len(st.Data))
		for k, v := range st.Data {
			out.Data[k] = v
		}
	}
	return out
}

// mergeData copies src entries into the step's data map, creating it on
// first use. Later writes win key-by-key; unrelated keys survive.
func (st *StepState) mergeData(src map[string]any) {
	if len(src) == 0 {
		return
	}
	if st.Data == nil {
		st.Data = make(map[string]any, len(src))
	}
	for k, v := range src {
		st.Data[k] = v
	}
}
