// Package def holds the immutable definitions the governance engine is
// configured with: irreversible-action definitions, time-expectation
// profiles, and workflow contracts.
//
// Definitions are authored as CUE packs and compiled by internal/compiler.
// Once a Registry is constructed it is never mutated - every runtime
// component reads definitions through it and trusts that Validate has
// already run.
//
// INVARIANTS:
//   - A Registry always carries a "default" time profile.
//   - Definition IDs are unique within their kind.
//   - StepDefinition.MinCompletions >= 1.
//   - When both are set, TimeProfile.Warning < TimeProfile.Timeout.
package def
