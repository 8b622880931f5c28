package def

import "fmt"

// Validation error codes (D100-D199)
const (
	ErrEmptyID             = "D100" // definition id missing
	ErrEmptyLabel          = "D101" // label missing
	ErrBadSeverity         = "D102" // severity outside known tiers
	ErrMissingPhrase       = "D103" // phrase flag and phrase value disagree
	ErrNegativeDuration    = "D104" // negative duration
	ErrWarningAfterTimeout = "D105" // warning offset not strictly before timeout
	ErrNoSteps             = "D106" // contract without steps
	ErrDuplicateID         = "D107" // duplicate id within a definition kind
	ErrBadMinCompletions   = "D108" // min_completions below 1
	ErrNoDefaultProfile    = "D109" // registry missing the "default" profile
)

// ValidationError represents a definition consistency error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}
