package workflow

import (
	"errors"
	"fmt"
)

// ViolationCode categorizes workflow contract violations.
type ViolationCode string

const (
	// ErrCodeUnknownContract indicates a contract id not in the registry.
	ErrCodeUnknownContract ViolationCode = "UNKNOWN_CONTRACT"

	// ErrCodeUnknownStep indicates a step id not in the active contract.
	ErrCodeUnknownStep ViolationCode = "UNKNOWN_STEP"

	// ErrCodeNoActiveWorkflow indicates a step operation without a
	// started workflow.
	ErrCodeNoActiveWorkflow ViolationCode = "NO_ACTIVE_WORKFLOW"

	// ErrCodeWorkflowActive indicates starting a workflow while another
	// is active.
	ErrCodeWorkflowActive ViolationCode = "WORKFLOW_ACTIVE"

	// ErrCodeStepOrder indicates advancing past an incomplete required step.
	ErrCodeStepOrder ViolationCode = "STEP_ORDER"

	// ErrCodeStepNotInProgress indicates completing a step that is not
	// IN_PROGRESS.
	ErrCodeStepNotInProgress ViolationCode = "STEP_NOT_IN_PROGRESS"

	// ErrCodeStepNotRevertible indicates reverting a step whose
	// definition has can_revert=false.
	ErrCodeStepNotRevertible ViolationCode = "STEP_NOT_REVERTIBLE"

	// ErrCodeRequiredIncomplete indicates completing a workflow while a
	// required step is not COMPLETED.
	ErrCodeRequiredIncomplete ViolationCode = "REQUIRED_INCOMPLETE"
)

// ViolationError reports that a caller broke the step-ordering contract.
//
// Violations are programmer errors: the engine fails fast so defects are
// caught during development instead of producing a corrupted session.
type ViolationError struct {
	// Code identifies the violation category.
	Code ViolationCode

	// Message is a human-readable description.
	Message string

	// ContractID identifies the contract, when one is active.
	ContractID string

	// StepID identifies the offending step, when the violation concerns one.
	StepID string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	switch {
	case e.ContractID != "" && e.StepID != "":
		return fmt.Sprintf("%s: %s (contract=%s, step=%s)", e.Code, e.Message, e.ContractID, e.StepID)
	case e.ContractID != "":
		return fmt.Sprintf("%s: %s (contract=%s)", e.Code, e.Message, e.ContractID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsViolation returns true if err is a workflow contract violation.
// Uses errors.As to handle wrapped errors.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

// ViolationCodeOf extracts the violation code from err, or "" if err is
// not a ViolationError.
func ViolationCodeOf(err error) ViolationCode {
	var ve *ViolationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

func violationf(code ViolationCode, contractID, stepID, format string, args ...any) *ViolationError {
	return &ViolationError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		ContractID: contractID,
		StepID:     stepID,
	}
}
