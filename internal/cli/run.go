package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every schedule family until interrupted",
		Long: `Start the scheduler. Each family fires on its cron expression; a
trigger that arrives while the family is still running is skipped. When
metrics are enabled the Prometheus endpoint is served alongside.

Example:
  adingest run --config /etc/adingest/adingest.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, rootOpts)
		},
	}
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runScheduler(cmd *cobra.Command, opts *RootOptions) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	return serve(ctx, a, cmd)
}

// serve blocks until ctx is done, running the scheduler and, if enabled,
// the metrics endpoint.
func serve(ctx context.Context, a *app, cmd *cobra.Command) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.metrics.Serve(gctx, a.cfg.Metrics.Address, a.logger)
		})
	}

	families := a.scheduler.Families()
	a.logger.Info("adingest started",
		slog.String("source", "cli"),
		slog.Int("families", len(families)),
		slog.Bool("metrics", a.cfg.Metrics.Enabled),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Scheduler started with %d families. Press Ctrl-C to stop.\n", len(families))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}
	a.logger.Info("adingest stopped gracefully", slog.String("source", "cli"))
	return nil
}
