package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vigil/internal/def"
)

// ValidationResult holds validation results for a definitions pack.
type ValidationResult struct {
	Valid     bool                  `json:"valid"`
	Actions   int                   `json:"actions"`
	Profiles  int                   `json:"profiles"`
	Contracts int                   `json:"contracts"`
	Errors    []def.ValidationError `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	All bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate a definitions pack",
		Long: `Validate CUE action, time profile and workflow contract definitions.

Compiles every definition in the pack and runs registry consistency
checks (duplicate ids, missing default profile) without starting the
engine. Stops at the first error by default; --all collects every
error so pack authors see all problems at once.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "collect all errors instead of stopping at the first")

	return cmd
}

func runValidate(opts *ValidateOptions, defsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	mode := LoadModeFailFast
	if opts.All {
		mode = LoadModeCollectAll
	}

	loadResult, loadErrors := LoadDefinitions(defsDir, mode)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, defsDir)

	result := ValidationResult{
		Valid:     len(loadErrors) == 0,
		Actions:   len(loadResult.Actions),
		Profiles:  len(loadResult.Profiles),
		Contracts: len(loadResult.Contracts),
	}

	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	return outputValidateSuccess(formatter, result)
}

// toValidationError converts a load error into the definition error shape
// used in reports. Position info, when present, is folded into the message.
func toValidationError(err error) def.ValidationError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		msg := loadErr.Message
		if loadErr.Pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column(), msg)
		}
		return def.ValidationError{Field: "definitions", Code: loadErr.Code, Message: msg}
	}
	return def.ValidationError{Field: "definitions", Code: ErrCodeGeneric, Message: err.Error()}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Pack valid (%d actions, %d profiles, %d contracts)\n",
		result.Actions, result.Profiles, result.Contracts)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Code, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
