package def

import (
	"fmt"
	"time"
)

// Severity classifies how dangerous an irreversible action is.
// Higher tiers add confirmation requirements on top of lower ones.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// severityNames maps tiers to their canonical spelling in definition packs.
var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// String returns the canonical name ("LOW", "MEDIUM", "HIGH", "CRITICAL").
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity converts a canonical name to a Severity.
// Returns an error for anything other than the four known tiers.
func ParseSeverity(name string) (Severity, error) {
	for sev, n := range severityNames {
		if n == name {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q (want LOW, MEDIUM, HIGH or CRITICAL)", name)
}

// RequiresAcknowledgement reports whether a confirmation for this tier
// must include an explicit acknowledgement checkbox.
func (s Severity) RequiresAcknowledgement() bool {
	return s >= SeverityHigh
}

// ActionDefinition describes one irreversible action that must pass the
// confirmation gate before execution. Immutable after compilation.
type ActionDefinition struct {
	// ID uniquely identifies the action (e.g. "DELETE_CONNECTION").
	ID string

	// Label is the human-readable name shown in the confirmation dialog.
	Label string

	// Severity selects the confirmation requirements for this action.
	Severity Severity

	// Consequences lists what the user is about to lose, in display order.
	Consequences []string

	// RequiresPhrase requires the user to type Phrase exactly.
	RequiresPhrase bool

	// Phrase is the confirmation phrase. Set iff RequiresPhrase.
	Phrase string

	// Cooldown is the mandatory wait before the confirmation can become
	// valid, independent of phrase and acknowledgement. Zero disables it.
	Cooldown time.Duration
}

// Validate checks internal consistency of the definition.
func (a ActionDefinition) Validate() []ValidationError {
	var errs []ValidationError
	if a.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Code: ErrEmptyID, Message: "action id is required"})
	}
	if a.Label == "" {
		errs = append(errs, ValidationError{Field: "label", Code: ErrEmptyLabel, Message: fmt.Sprintf("action %s: label is required", a.ID)})
	}
	if _, ok := severityNames[a.Severity]; !ok {
		errs = append(errs, ValidationError{Field: "severity", Code: ErrBadSeverity, Message: fmt.Sprintf("action %s: invalid severity", a.ID)})
	}
	if a.RequiresPhrase && a.Phrase == "" {
		errs = append(errs, ValidationError{Field: "phrase", Code: ErrMissingPhrase, Message: fmt.Sprintf("action %s: phrase confirmation required but no phrase defined", a.ID)})
	}
	if !a.RequiresPhrase && a.Phrase != "" {
		errs = append(errs, ValidationError{Field: "phrase", Code: ErrMissingPhrase, Message: fmt.Sprintf("action %s: phrase defined but phrase confirmation not required", a.ID)})
	}
	if a.Cooldown < 0 {
		errs = append(errs, ValidationError{Field: "cooldown_ms", Code: ErrNegativeDuration, Message: fmt.Sprintf("action %s: cooldown must be >= 0", a.ID)})
	}
	return errs
}

// TimeProfile states how long an operation kind is expected to take and
// when lateness should escalate. Durations of zero mean "not set".
type TimeProfile struct {
	// Kind is the operation-kind key this profile is looked up by.
	Kind string

	// Label names the operation in escalation notices ("Saving changes").
	Label string

	// Expected is the typical duration, used for progress estimation.
	Expected time.Duration

	// Warning is the offset at which a WARNING escalation fires.
	Warning time.Duration

	// Timeout is the offset at which a TIMEOUT escalation fires.
	Timeout time.Duration
}

// Validate checks internal consistency of the profile.
func (p TimeProfile) Validate() []ValidationError {
	var errs []ValidationError
	if p.Kind == "" {
		errs = append(errs, ValidationError{Field: "kind", Code: ErrEmptyID, Message: "profile kind is required"})
	}
	if p.Label == "" {
		errs = append(errs, ValidationError{Field: "label", Code: ErrEmptyLabel, Message: fmt.Sprintf("profile %s: label is required", p.Kind)})
	}
	if p.Expected < 0 || p.Warning < 0 || p.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "durations", Code: ErrNegativeDuration, Message: fmt.Sprintf("profile %s: durations must be >= 0", p.Kind)})
	}
	if p.Warning > 0 && p.Timeout > 0 && p.Warning >= p.Timeout {
		errs = append(errs, ValidationError{Field: "warning_ms", Code: ErrWarningAfterTimeout, Message: fmt.Sprintf("profile %s: warning_ms must be strictly before timeout_ms", p.Kind)})
	}
	return errs
}

// StepDefinition describes one step of a workflow contract.
type StepDefinition struct {
	ID   string
	Name string

	// Required steps must be COMPLETED before any later step may start,
	// and before the workflow itself can complete.
	Required bool

	// CanRevert permits resetting the step back to PENDING.
	CanRevert bool

	// MinCompletions is how many completions the step needs before it is
	// considered COMPLETED. Always >= 1.
	MinCompletions int

	// Repeatable steps stay IN_PROGRESS between completions below
	// MinCompletions; non-repeatable steps drop back to PENDING and must
	// be re-advanced.
	Repeatable bool
}

// WorkflowContract is an immutable, ordered multi-step workflow definition.
type WorkflowContract struct {
	ID    string
	Name  string
	Steps []StepDefinition
}

// Step returns the definition for the given step id.
func (c WorkflowContract) Step(stepID string) (StepDefinition, bool) {
	for _, s := range c.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// StepIndex returns the position of the given step id in declaration order.
func (c WorkflowContract) StepIndex(stepID string) (int, bool) {
	for i, s := range c.Steps {
		if s.ID == stepID {
			return i, true
		}
	}
	return -1, false
}

// Validate checks internal consistency of the contract.
func (c WorkflowContract) Validate() []ValidationError {
	var errs []ValidationError
	if c.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Code: ErrEmptyID, Message: "contract id is required"})
	}
	if len(c.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Code: ErrNoSteps, Message: fmt.Sprintf("contract %s: at least one step is required", c.ID)})
	}
	seen := make(map[string]bool, len(c.Steps))
	for _, s := range c.Steps {
		if s.ID == "" {
			errs = append(errs, ValidationError{Field: "steps", Code: ErrEmptyID, Message: fmt.Sprintf("contract %s: step id is required", c.ID)})
			continue
		}
		if seen[s.ID] {
			errs = append(errs, ValidationError{Field: "steps", Code: ErrDuplicateID, Message: fmt.Sprintf("contract %s: duplicate step id %s", c.ID, s.ID)})
		}
		seen[s.ID] = true
		if s.MinCompletions < 1 {
			errs = append(errs, ValidationError{Field: "min_completions", Code: ErrBadMinCompletions, Message: fmt.Sprintf("contract %s: step %s: min_completions must be >= 1", c.ID, s.ID)})
		}
	}
	return errs
}
