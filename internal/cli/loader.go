package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"vigil/internal/compiler"
	"vigil/internal/def"
)

// LoadMode controls how errors are handled during pack loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading a definitions pack from a
// directory.
type LoadResult struct {
	Actions   []def.ActionDefinition
	Profiles  []def.TimeProfile
	Contracts []def.WorkflowContract

	// Registry is the validated registry built from the compiled
	// definitions. Nil when any compile or validation error occurred.
	Registry *def.Registry

	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during pack loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinitions loads and compiles a CUE definitions pack from a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	// Load CUE instances
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	// Check for load errors
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	// Build value from instance
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	// Extract actions
	actionsVal := value.LookupPath(cue.ParsePath("actions"))
	if actionsVal.Exists() {
		iter, iterErr := actionsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating actions: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				action, compileErr := compiler.CompileAction(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "actions."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Actions = append(result.Actions, *action)
			}
		}
	}

	// Extract time profiles
	profilesVal := value.LookupPath(cue.ParsePath("profiles"))
	if profilesVal.Exists() {
		iter, iterErr := profilesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating profiles: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				profile, compileErr := compiler.CompileProfile(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "profiles."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Profiles = append(result.Profiles, *profile)
			}
		}
	}

	// Extract workflow contracts
	contractsVal := value.LookupPath(cue.ParsePath("contracts"))
	if contractsVal.Exists() {
		iter, iterErr := contractsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating contracts: %v", iterErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
		} else {
			for iter.Next() {
				contract, compileErr := compiler.CompileContract(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "contracts."+iter.Label()))
					if mode == LoadModeFailFast {
						return result, errs
					}
					continue
				}
				result.Contracts = append(result.Contracts, *contract)
			}
		}
	}

	// The registry validates cross-definition consistency (duplicate ids,
	// missing default profile). Only attempt it on a cleanly compiled pack.
	if len(errs) == 0 {
		registry, regErr := def.NewRegistry(result.Actions, result.Profiles, result.Contracts)
		if regErr != nil {
			var registryErr def.RegistryError
			if errors.As(regErr, &registryErr) {
				for _, ve := range registryErr.Errors {
					errs = append(errs, &LoadError{Code: ve.Code, Message: ve.Message})
					if mode == LoadModeFailFast {
						return result, errs
					}
				}
			} else {
				errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: regErr.Error()})
			}
		} else {
			result.Registry = registry
		}
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoSession   = "E007" // No persisted workflow session

	// Definition compile errors
	ErrCodeBadLabel    = "E101" // Missing or invalid label
	ErrCodeBadSeverity = "E102" // Severity outside known tiers
	ErrCodeBadPhrase   = "E103" // Phrase configuration invalid
	ErrCodeBadDuration = "E104" // Duration field invalid
	ErrCodeBadStep     = "E105" // Contract step invalid
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "label":
		return ErrCodeBadLabel
	case "severity":
		return ErrCodeBadSeverity
	case "phrase":
		return ErrCodeBadPhrase
	case "cooldown_ms", "expected_ms", "warning_ms", "timeout_ms":
		return ErrCodeBadDuration
	case "steps", "id", "min_completions":
		return ErrCodeBadStep
	default:
		return ErrCodeGeneric
	}
}
