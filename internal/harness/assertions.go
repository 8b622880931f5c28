package harness

import (
	"fmt"
)

// EvaluateAssertions checks every assertion against the result's trace
// and the harness's final state. Returns all failures (does not
// fail-fast) so a scenario author sees every broken expectation at once.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(result, &a, h); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] %s: %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a *Assertion, h *Harness) string {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertWorkflowStep:
		return assertWorkflowStep(h, a)
	case AssertGateState:
		return assertGateState(h, a)
	case AssertNavigationSafe:
		return assertNavigationSafe(h, a)
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that an event of the given kind with a
// matching detail subset appears anywhere in the trace.
func assertTraceContains(trace []TraceEvent, a *Assertion) string {
	for _, e := range trace {
		if e.Kind == a.Kind && detailMatches(e.Detail, a.Detail) {
			return ""
		}
	}
	return fmt.Sprintf("no %q event matching detail %v in trace", a.Kind, a.Detail)
}

// assertTraceOrder checks that events of the given kinds appear in
// relative order, not necessarily adjacent.
func assertTraceOrder(trace []TraceEvent, a *Assertion) string {
	next := 0
	for _, e := range trace {
		if next < len(a.Kinds) && e.Kind == a.Kinds[next] {
			next++
		}
	}
	if next < len(a.Kinds) {
		return fmt.Sprintf("expected order %v, stalled waiting for %q", a.Kinds, a.Kinds[next])
	}
	return ""
}

// assertTraceCount checks that events of the given kind (with a
// matching detail subset, when given) appear exactly Count times.
func assertTraceCount(trace []TraceEvent, a *Assertion) string {
	count := 0
	for _, e := range trace {
		if e.Kind == a.Kind && detailMatches(e.Detail, a.Detail) {
			count++
		}
	}
	if count != a.Count {
		return fmt.Sprintf("expected %d %q events, found %d", a.Count, a.Kind, count)
	}
	return ""
}

// assertWorkflowStep checks a step's final status and, when specified,
// its completion count.
func assertWorkflowStep(h *Harness, a *Assertion) string {
	s := h.engine.Session()
	st, ok := s.Steps[a.StepID]
	if !ok {
		return fmt.Sprintf("no step %q in the active session", a.StepID)
	}
	if string(st.Status) != a.Status {
		return fmt.Sprintf("step %q: expected status %s, got %s", a.StepID, a.Status, st.Status)
	}
	if a.Completions > 0 && st.Completions != a.Completions {
		return fmt.Sprintf("step %q: expected %d completions, got %d", a.StepID, a.Completions, st.Completions)
	}
	return ""
}

func assertGateState(h *Harness, a *Assertion) string {
	got := h.gate.State().String()
	if got != a.State {
		return fmt.Sprintf("expected gate state %s, got %s", a.State, got)
	}
	return ""
}

func assertNavigationSafe(h *Harness, a *Assertion) string {
	got := h.guard.IsNavigationSafe()
	if got != a.Safe {
		return fmt.Sprintf("expected navigation safe=%v, got %v", a.Safe, got)
	}
	return ""
}

// detailMatches reports whether every expected key appears in the event
// detail with an equal value. Values are compared by their string form
// so YAML ints match traced int64s.
func detailMatches(got, want map[string]any) bool {
	for k, wantVal := range want {
		gotVal, ok := got[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", gotVal) != fmt.Sprintf("%v", wantVal) {
			return false
		}
	}
	return true
}
