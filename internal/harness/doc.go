// Package harness provides scenario-driven conformance testing for the
// governance engine.
//
// The harness compiles a CUE definitions pack, wires every runtime
// component over a fake scheduler and an in-memory session store, and
// drives the public operations from a YAML scenario. Every observable
// effect - dispatches, escalation notices, confirmation state changes,
// navigation outcomes, operation errors - lands in an ordered trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	defs:
//	  - path/to/pack.cue
//	steps:
//	  - op: start_workflow
//	    contract: onboarding
//	  - op: run
//	    operation_id: op-1
//	    kind: save
//	    label: "Saving changes"
//	    step: profile
//	  - op: advance
//	    duration: 10s
//	  - op: request_confirmation
//	    action: DELETE_PROJECT
//	    target: "Production"
//	  - op: set_phrase
//	    phrase: DELETE
//	  - op: set_acknowledged
//	    ack: true
//	  - op: execute_confirmed
//	assertions:
//	  - type: trace_contains
//	    kind: dispatch
//	    detail: { operation_id: op-1 }
//	  - type: trace_order
//	    kinds: [dispatch, notice]
//
// A step that should fail carries an expect_error substring; any other
// step error fails the scenario.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: an event of the given kind with a matching detail
//     subset appears in the trace
//   - trace_order: events of the given kinds appear in relative order
//   - trace_count: events of the given kind appear exactly N times
//   - workflow_step: a step's final status (and optionally completions)
//   - gate_state: the confirmation gate's final state name
//   - navigation_safe: whether navigation is safe at the end
//
// # Deterministic Testing
//
// Time never passes on its own: warning and timeout escalations and
// cooldown ticks fire only when a scenario step advances the fake
// scheduler. Operation ids come from a sequence generator. Identical
// runs therefore produce identical traces, which golden files pin down.
package harness
