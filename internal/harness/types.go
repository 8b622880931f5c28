package harness

// TraceEvent is one observable effect during scenario execution.
type TraceEvent struct {
	// Seq orders events; assigned monotonically by the harness.
	Seq int64 `json:"seq"`

	// Kind classifies the event: "dispatch", "notice", "confirm",
	// "navigate", "navigation", "blocker", "workflow", "cancel",
	// "retry", "abort" or "error".
	Kind string `json:"kind"`

	// Detail carries the event payload. Keys depend on Kind.
	Detail map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all observable events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
