package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/schedule"
)

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <family>",
		Short: "Run one batch of a family now",
		Long: `Run every task of one family once, with the family's parallelism,
timeout and retry settings, and print the run summary.

Exit codes:
  0 - All tasks succeeded
  1 - One or more tasks failed
  2 - Unknown family or configuration error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return triggerFamily(ctx, a, args[0], rootOpts.Format, cmd.OutOrStdout())
		},
	}
}

func triggerFamily(ctx context.Context, a *app, name, format string, w io.Writer) error {
	out := &OutputFormatter{Format: format, Writer: w}

	fam, ok := a.scheduler.Family(name)
	if !ok {
		_ = out.Error("E_UNKNOWN_FAMILY", fmt.Sprintf("unknown family %q", name), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown family %q", name))
	}

	summary, err := fam.Trigger(ctx)
	if err != nil {
		if schedule.IsRunInProgress(err) {
			_ = out.Error("E_RUN_IN_PROGRESS", err.Error(), nil)
			return WrapExitError(ExitFailure, "run skipped", err)
		}
		return WrapExitError(ExitFailure, "trigger failed", err)
	}

	if err := out.Success(summary, func(w io.Writer) error {
		return writeSummary(w, summary)
	}); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d tasks failed", summary.Failed, summary.Total))
	}
	return nil
}

// writeSummary renders one run as text.
func writeSummary(w io.Writer, s domain.BatchSummary) error {
	fmt.Fprintf(w, "Run %s (%s)\n", s.RunID, s.Family)
	fmt.Fprintf(w, "  started:  %s\n", s.StartedAt.UTC().Format("2006-01-02 15:04:05Z"))
	fmt.Fprintf(w, "  duration: %dms\n", s.DurationMs)
	fmt.Fprintf(w, "  tasks:    %d succeeded, %d failed, %d total\n", s.Succeeded, s.Failed, s.Total)
	fmt.Fprintf(w, "  records:  %d\n", s.TotalRecords)
	for _, d := range s.Details {
		status := "ok"
		switch {
		case d.Success:
		case d.Timeout:
			status = "timeout"
		default:
			status = "failed"
		}
		line := fmt.Sprintf("  - %-24s %-8s count=%d attempts=%d", d.Task, status, d.Count, d.Attempts)
		if d.Err != "" {
			line += " error=" + d.Err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
