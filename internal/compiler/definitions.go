package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"

	"vigil/internal/def"
)

// CompileAction parses a CUE value into an ActionDefinition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the action struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`actions: DELETE_PROJECT: { ... }`)
//	action, err := CompileAction(v.LookupPath(cue.ParsePath("actions.DELETE_PROJECT")))
func CompileAction(v cue.Value) (*def.ActionDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	action := &def.ActionDefinition{ID: pathLabel(v)}

	label, err := requiredString(v, "label")
	if err != nil {
		return nil, err
	}
	action.Label = label

	sevName, err := requiredString(v, "severity")
	if err != nil {
		return nil, err
	}
	sev, err := def.ParseSeverity(sevName)
	if err != nil {
		return nil, &CompileError{
			Field:   "severity",
			Message: err.Error(),
			Pos:     v.LookupPath(cue.ParsePath("severity")).Pos(),
		}
	}
	action.Severity = sev

	action.Consequences, err = stringList(v, "consequences")
	if err != nil {
		return nil, err
	}

	// A phrase field implies phrase confirmation; the gate refuses to
	// validate without an exact match.
	phraseVal := v.LookupPath(cue.ParsePath("phrase"))
	if phraseVal.Exists() {
		phrase, err := phraseVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		action.Phrase = phrase
		action.RequiresPhrase = true
	}

	action.Cooldown, err = optionalDuration(v, "cooldown_ms")
	if err != nil {
		return nil, err
	}

	return action, nil
}

// CompileProfile parses a CUE value into a TimeProfile. The profile kind
// comes from the struct label.
func CompileProfile(v cue.Value) (*def.TimeProfile, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	profile := &def.TimeProfile{Kind: pathLabel(v)}

	label, err := requiredString(v, "label")
	if err != nil {
		return nil, err
	}
	profile.Label = label

	profile.Expected, err = optionalDuration(v, "expected_ms")
	if err != nil {
		return nil, err
	}
	profile.Warning, err = optionalDuration(v, "warning_ms")
	if err != nil {
		return nil, err
	}
	profile.Timeout, err = optionalDuration(v, "timeout_ms")
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// CompileContract parses a CUE value into a WorkflowContract. Step order in
// the CUE list is the contract's declaration order.
func CompileContract(v cue.Value) (*def.WorkflowContract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	contract := &def.WorkflowContract{ID: pathLabel(v)}

	name, err := requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	contract.Name = name

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		step, err := compileStep(iter.Value())
		if err != nil {
			return nil, err
		}
		contract.Steps = append(contract.Steps, *step)
	}
	if len(contract.Steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     stepsVal.Pos(),
		}
	}

	return contract, nil
}

func compileStep(v cue.Value) (*def.StepDefinition, error) {
	step := &def.StepDefinition{MinCompletions: 1}

	id, err := requiredString(v, "id")
	if err != nil {
		return nil, err
	}
	step.ID = id

	name, err := requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	step.Name = name

	step.Required, err = optionalBool(v, "required")
	if err != nil {
		return nil, err
	}
	step.CanRevert, err = optionalBool(v, "can_revert")
	if err != nil {
		return nil, err
	}
	step.Repeatable, err = optionalBool(v, "repeatable")
	if err != nil {
		return nil, err
	}

	minVal := v.LookupPath(cue.ParsePath("min_completions"))
	if minVal.Exists() {
		n, err := minVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		step.MinCompletions = int(n)
	}

	return step, nil
}

// CompileRegistry walks a definitions pack value with top-level actions,
// profiles and contracts structs and compiles them into a validated
// Registry. Any top-level field may be absent, but the pack must carry a
// "default" time profile for Registry construction to succeed.
func CompileRegistry(v cue.Value) (*def.Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var (
		actions   []def.ActionDefinition
		profiles  []def.TimeProfile
		contracts []def.WorkflowContract
	)

	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if actionsVal.Exists() {
		iter, err := actionsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			action, err := CompileAction(iter.Value())
			if err != nil {
				return nil, err
			}
			actions = append(actions, *action)
		}
	}

	profilesVal := v.LookupPath(cue.ParsePath("profiles"))
	if profilesVal.Exists() {
		iter, err := profilesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			profile, err := CompileProfile(iter.Value())
			if err != nil {
				return nil, err
			}
			profiles = append(profiles, *profile)
		}
	}

	contractsVal := v.LookupPath(cue.ParsePath("contracts"))
	if contractsVal.Exists() {
		iter, err := contractsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			contract, err := CompileContract(iter.Value())
			if err != nil {
				return nil, err
			}
			contracts = append(contracts, *contract)
		}
	}

	return def.NewRegistry(actions, profiles, contracts)
}

// pathLabel extracts the last path selector as the definition's id.
// e.g. `actions: "delete-project": {...}` → "delete-project".
func pathLabel(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	// The label may be quoted in CUE, extract it
	return strings.Trim(labels[len(labels)-1].String(), `"`)
}

func requiredString(v cue.Value, field string) (string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s is required", field),
			Pos:     v.Pos(),
		}
	}
	s, err := fieldVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return false, nil
	}
	b, err := fieldVal.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// optionalDuration reads a millisecond integer field. Absent means zero.
func optionalDuration(v cue.Value, field string) (time.Duration, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return 0, nil
	}
	ms, err := fieldVal.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return nil, nil
	}
	iter, err := fieldVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
