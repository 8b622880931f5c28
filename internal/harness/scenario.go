package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios compile a definitions pack, drive the engine's public
// operations and assert on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Defs lists paths to CUE definition files to compile and load.
	// Paths are relative to the scenario file location.
	Defs []string `yaml:"defs"`

	// Steps contains the operations to drive, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step drives one engine operation. Op selects the operation; the other
// fields parameterize it and are validated per op.
type Step struct {
	// Op is the operation name. See the Op* constants.
	Op string `yaml:"op"`

	// Contract is the workflow contract id (start_workflow).
	Contract string `yaml:"contract,omitempty"`

	// StepID names a workflow step (advance_step, complete_step,
	// fail_step, revert_step, and the optional bracket on run).
	StepID string `yaml:"step,omitempty"`

	// Message is the failure message for fail_step.
	Message string `yaml:"message,omitempty"`

	// OperationID keys tracking (run, cancel_operation,
	// retry_operation). Generated for run when empty.
	OperationID string `yaml:"operation_id,omitempty"`

	// Kind selects the time-expectation profile (run).
	Kind string `yaml:"kind,omitempty"`

	// Label names the operation in blockers and notices (run,
	// register_blocker).
	Label string `yaml:"label,omitempty"`

	// Action is the confirmation action id (run, request_confirmation).
	Action string `yaml:"action,omitempty"`

	// Target names the item an irreversible action applies to.
	Target string `yaml:"target,omitempty"`

	// Fail makes the dispatched effect return this error message (run,
	// execute_confirmed when the pending run carries it).
	Fail string `yaml:"fail,omitempty"`

	// Abortable equips the run with an abort hook so cancel can
	// interrupt it and force-navigation is allowed past its blocker.
	Abortable bool `yaml:"abortable,omitempty"`

	// Phrase is the typed confirmation phrase (set_phrase).
	Phrase string `yaml:"phrase,omitempty"`

	// Ack is the acknowledgement checkbox value (set_acknowledged).
	Ack bool `yaml:"ack,omitempty"`

	// Duration advances the fake scheduler (advance), e.g. "10s".
	Duration string `yaml:"duration,omitempty"`

	// BlockerKind is the blocker kind for register_blocker.
	BlockerKind string `yaml:"blocker_kind,omitempty"`

	// Priority orders blockers for register_blocker.
	Priority int `yaml:"priority,omitempty"`

	// ExpectError asserts that this step fails and that the error
	// message contains this substring. A step that errors without it
	// fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step op constants.
const (
	OpStartWorkflow       = "start_workflow"
	OpAdvanceStep         = "advance_step"
	OpCompleteStep        = "complete_step"
	OpFailStep            = "fail_step"
	OpRevertStep          = "revert_step"
	OpCompleteWorkflow    = "complete_workflow"
	OpAbandonWorkflow     = "abandon_workflow"
	OpRun                 = "run"
	OpStartTracking       = "start_tracking"
	OpCompleteTracking    = "complete_tracking"
	OpExecuteConfirmed    = "execute_confirmed"
	OpRequestConfirmation = "request_confirmation"
	OpSetPhrase           = "set_phrase"
	OpSetAcknowledged     = "set_acknowledged"
	OpCloseDialog         = "close_dialog"
	OpAdvance             = "advance"
	OpCancelOperation     = "cancel_operation"
	OpRetryOperation      = "retry_operation"
	OpRegisterBlocker     = "register_blocker"
	OpUnregisterBlocker   = "unregister_blocker"
	OpAttemptNavigation   = "attempt_navigation"
	OpForceNavigation     = "force_navigation"
	OpCancelNavigation    = "cancel_navigation"
	OpSnapshot            = "snapshot"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event kind appears with a detail subset
	// - "trace_order": event kinds appear in relative order
	// - "trace_count": an event kind appears exactly N times
	// - "workflow_step": a step's final status and completions
	// - "gate_state": the gate's final state name
	// - "navigation_safe": whether navigation is safe at the end
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Detail is the expected event payload subset (trace_contains,
	// trace_count). Only specified keys are compared.
	Detail map[string]any `yaml:"detail,omitempty"`

	// Kinds is the expected event-kind order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// StepID and Status check a workflow step's final state
	// (workflow_step). Completions, when > 0, is checked too.
	StepID      string `yaml:"step,omitempty"`
	Status      string `yaml:"status,omitempty"`
	Completions int    `yaml:"completions,omitempty"`

	// State is the expected gate state name (gate_state).
	State string `yaml:"state,omitempty"`

	// Safe is the expected navigation safety (navigation_safe).
	Safe bool `yaml:"safe,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertWorkflowStep   = "workflow_step"
	AssertGateState      = "gate_state"
	AssertNavigationSafe = "navigation_safe"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving def paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, defPath := range scenario.Defs {
		if !filepath.IsAbs(defPath) && basePath != "" {
			scenario.Defs[i] = filepath.Join(basePath, defPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Defs) == 0 {
		return fmt.Errorf("defs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, defPath := range s.Defs {
		if _, err := os.Stat(defPath); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", defPath)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpStartWorkflow:
		if st.Contract == "" {
			return fmt.Errorf("steps[%d]: contract is required for %s", index, st.Op)
		}
	case OpAdvanceStep, OpCompleteStep, OpRevertStep:
		if st.StepID == "" {
			return fmt.Errorf("steps[%d]: step is required for %s", index, st.Op)
		}
	case OpFailStep:
		if st.StepID == "" {
			return fmt.Errorf("steps[%d]: step is required for %s", index, st.Op)
		}
		if st.Message == "" {
			return fmt.Errorf("steps[%d]: message is required for %s", index, st.Op)
		}
	case OpRun:
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for %s", index, st.Op)
		}
	case OpRequestConfirmation:
		if st.Action == "" {
			return fmt.Errorf("steps[%d]: action is required for %s", index, st.Op)
		}
	case OpSetPhrase:
		if st.Phrase == "" {
			return fmt.Errorf("steps[%d]: phrase is required for %s", index, st.Op)
		}
	case OpAdvance:
		if st.Duration == "" {
			return fmt.Errorf("steps[%d]: duration is required for %s", index, st.Op)
		}
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("steps[%d]: invalid duration %q: %v", index, st.Duration, err)
		}
	case OpStartTracking, OpCompleteTracking, OpCancelOperation, OpRetryOperation:
		if st.OperationID == "" {
			return fmt.Errorf("steps[%d]: operation_id is required for %s", index, st.Op)
		}
	case OpRegisterBlocker:
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for %s", index, st.Op)
		}
	case OpUnregisterBlocker:
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for %s", index, st.Op)
		}
	case OpCompleteWorkflow, OpAbandonWorkflow, OpExecuteConfirmed,
		OpSetAcknowledged, OpCloseDialog, OpAttemptNavigation,
		OpForceNavigation, OpCancelNavigation, OpSnapshot:
		// No required parameters.
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertWorkflowStep:
		if a.StepID == "" {
			return fmt.Errorf("assertions[%d]: step is required for workflow_step", index)
		}
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for workflow_step", index)
		}
	case AssertGateState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for gate_state", index)
		}
	case AssertNavigationSafe:
		// Safe defaults to false, which is a valid expectation.
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
