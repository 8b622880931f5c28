package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/store"
	"vigil/internal/workflow"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// StepReport is one workflow step in the session report.
type StepReport struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Completions int    `json:"completions"`
	Error       string `json:"error,omitempty"`
}

// SessionReport holds the persisted workflow session for display.
type SessionReport struct {
	ContractID  string       `json:"contract_id"`
	Completed   bool         `json:"completed"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Steps       []StepReport `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the persisted workflow session",
		Long: `Inspect the workflow session persisted in a session store.

Shows the active contract, per-step status and completion counts.
Useful for debugging a workflow that was interrupted mid-journey:
the session survives restarts, and trace shows exactly where it
will resume.

Examples:
  vigil trace --db ./vigil.db
  vigil trace --db ./vigil.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite session store (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTraceSession(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open session store", err)
	}
	defer st.Close()

	data, ok, err := st.Get(ctx, workflow.SessionKey)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	if !ok {
		msg := "no persisted workflow session"
		_ = formatter.Error(ErrCodeNoSession, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	session, err := workflow.DecodeSession(data)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to decode session", err)
	}

	return outputSessionReport(formatter, buildSessionReport(session))
}

func buildSessionReport(s workflow.Session) SessionReport {
	report := SessionReport{
		ContractID:  s.ContractID,
		Completed:   s.Completed(),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}

	ids := make([]string, 0, len(s.Steps))
	for id := range s.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := s.Steps[id]
		report.Steps = append(report.Steps, StepReport{
			ID:          id,
			Status:      string(st.Status),
			Completions: st.Completions,
			Error:       st.Error,
		})
	}
	return report
}

func outputSessionReport(formatter *OutputFormatter, report SessionReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Contract: %s\n", report.ContractID)
	fmt.Fprintf(formatter.Writer, "Started:  %s\n", report.StartedAt.Format(time.RFC3339))
	if report.CompletedAt != nil {
		fmt.Fprintf(formatter.Writer, "Completed: %s\n", report.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(formatter.Writer)

	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-20s %-12s completions=%d", step.ID, step.Status, step.Completions)
		fmt.Fprintln(formatter.Writer, line)
		if step.Error != "" {
			fmt.Fprintf(formatter.Writer, "    error: %s\n", step.Error)
		}
	}
	return nil
}
