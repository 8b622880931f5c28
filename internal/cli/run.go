package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vigil/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DefsDir   string
	ShowTrace bool
}

// RunReport is the run command output payload.
type RunReport struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Steps    int                  `json:"steps"`
	Events   int                  `json:"events"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against the engine",
		Long: `Run a YAML scenario against a fresh engine instance.

The scenario names the CUE definition files to compile (relative to the
scenario file), the operations to drive and the assertions to check.
Execution is deterministic: time only moves through explicit advance
steps, so the same scenario always yields the same trace.

Example:
  vigil run ./scenarios/confirm_cooldown.yaml
  vigil run ./scenarios/confirm_cooldown.yaml --trace --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DefsDir, "defs", "", "resolve definition paths against this directory instead of the scenario's")
	cmd.Flags().BoolVar(&opts.ShowTrace, "trace", false, "print the full event trace")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Definition paths resolve relative to the scenario file unless
	// --defs points elsewhere.
	basePath := opts.DefsDir
	if basePath == "" {
		basePath = filepath.Dir(path)
	}
	scenario, err := harness.LoadScenarioWithBasePath(path, basePath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	formatter.VerboseLog("Loaded scenario %q (%d steps, %d assertions)",
		scenario.Name, len(scenario.Steps), len(scenario.Assertions))

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	report := RunReport{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Steps:    len(scenario.Steps),
		Events:   len(result.Trace),
		Trace:    result.Trace,
		Errors:   result.Errors,
	}

	return outputRunReport(formatter, opts, report)
}

func outputRunReport(formatter *OutputFormatter, opts *RunOptions, report RunReport) error {
	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
		if !report.Pass {
			return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", report.Scenario))
		}
		return nil
	}

	// Text format
	if report.Pass {
		fmt.Fprintf(formatter.Writer, "✓ %s passed (%d steps, %d events)\n",
			report.Scenario, report.Steps, report.Events)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s failed (%d steps, %d events)\n",
			report.Scenario, report.Steps, report.Events)
		fmt.Fprintln(formatter.Writer)
		for _, msg := range report.Errors {
			fmt.Fprintf(formatter.Writer, "  %s\n", msg)
		}
	}

	if opts.ShowTrace {
		fmt.Fprintln(formatter.Writer)
		for _, ev := range report.Trace {
			fmt.Fprintf(formatter.Writer, "%4d  %-12s %v\n", ev.Seq, ev.Kind, ev.Detail)
		}
	}

	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", report.Scenario))
	}
	return nil
}
