package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/adingest/internal/config"
	"github.com/roach88/adingest/internal/domain"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Family string
	Limit  int
	RunID  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded batch runs",
		Long: `List the most recent batch runs, newest first, or show one run in
detail with --run.

Examples:
  adingest history --family today --limit 5
  adingest history --run 0192f1c4-7c1e-7a41-9d0e-3b1f2a6c8e55 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			backend, err := openBackend(commandContext(cmd), cfg.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			defer backend.Close()
			return showHistory(commandContext(cmd), backend, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Family, "family", "", "only runs of this family")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run in detail")

	return cmd
}

type runLog interface {
	ListRuns(ctx context.Context, family string, limit int) ([]domain.BatchSummary, error)
	GetRun(ctx context.Context, runID string) (domain.BatchSummary, error)
}

func showHistory(ctx context.Context, runs runLog, opts *HistoryOptions, w io.Writer) error {
	out := &OutputFormatter{Format: opts.Format, Writer: w}

	if opts.RunID != "" {
		run, err := runs.GetRun(ctx, opts.RunID)
		if errors.Is(err, domain.ErrRunNotFound) {
			_ = out.Error("E_RUN_NOT_FOUND", err.Error(), nil)
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		return out.Success(run, func(w io.Writer) error { return writeSummary(w, run) })
	}

	list, err := runs.ListRuns(ctx, opts.Family, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	return out.Success(list, func(w io.Writer) error { return writeRunTable(w, list) })
}

func writeRunTable(w io.Writer, runs []domain.BatchSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tFAMILY\tOK\tFAILED\tRECORDS\tDURATION\tRUN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%dms\t%s\n",
			r.StartedAt.UTC().Format("2006-01-02 15:04:05Z"),
			r.Family, r.Succeeded, r.Failed, r.TotalRecords, r.DurationMs, r.RunID)
	}
	return tw.Flush()
}
