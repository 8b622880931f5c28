// Package workflow enforces step ordering and recovery for multi-step
// processes.
//
// ARCHITECTURE:
//
// Pure reducer core:
// All state transitions go through Apply, a pure function over a tagged
// action union. Apply validates the contract (required-step ordering,
// completion counts, revertibility) and either returns the next session
// or a *ViolationError. Centralizing validation there keeps every rule
// unit-testable without storage or UI.
//
// Engine shell:
// Engine wraps Apply with contract lookup, a mutex, and persistence.
// Every successful mutation is serialized to the injected KV store under
// a fixed session key before the call returns.
//
// Restore policy:
// On Restore, only steps persisted as COMPLETED are replayed; anything
// that was IN_PROGRESS, FAILED or SKIPPED resets to PENDING. A step that
// was mid-flight when the client died cannot be trusted to have applied
// its effect, so the session resumes from the last known good step.
//
// FAIL FAST:
// Contract violations raise *ViolationError immediately. A caller that
// advances out of order or completes a step that never started has a
// defect; silently absorbing it would corrupt the session.
package workflow
