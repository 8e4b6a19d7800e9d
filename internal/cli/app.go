package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/adingest/internal/config"
	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/feed"
	"github.com/roach88/adingest/internal/hierarchy"
	"github.com/roach88/adingest/internal/metrics"
	"github.com/roach88/adingest/internal/pgstore"
	"github.com/roach88/adingest/internal/reconcile"
	"github.com/roach88/adingest/internal/resolve"
	"github.com/roach88/adingest/internal/schedule"
	"github.com/roach88/adingest/internal/store"
)

// Backend is everything the process needs from storage. Both the SQLite
// and PostgreSQL stores satisfy it.
type Backend interface {
	reconcile.Store
	resolve.Store
	hierarchy.Store
	schedule.Sink
	ListRuns(ctx context.Context, family string, limit int) ([]domain.BatchSummary, error)
	GetRun(ctx context.Context, runID string) (domain.BatchSummary, error)
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*pgstore.Store)(nil)
)

// openBackend opens the store named by the database section.
func openBackend(ctx context.Context, db config.DatabaseConfig) (Backend, error) {
	switch db.Driver {
	case "sqlite":
		st, err := store.Open(db.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := pgstore.Open(ctx, db.DSN, int32(db.MaxConns))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

// app is the fully wired process: storage, engines, families and sinks.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   Backend
	metrics   *metrics.Recorder
	scheduler *schedule.Scheduler
}

// appOptions lets tests swap in a backend and clock.
type appOptions struct {
	backend Backend
	now     func() time.Time
}

// loadApp reads the config file and builds the app.
func loadApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(logOut, opts, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	a, err := buildApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}
	return a, nil
}

// buildApp wires every component described by cfg.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, o appOptions) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	backend := o.backend
	if backend == nil {
		backend, err = openBackend(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
		}
	}
	now := o.now
	if now == nil {
		now = time.Now
	}

	rec := metrics.New()
	resolver := resolve.New(backend, cfg.Attribution.QueryParam, logger)
	engine := reconcile.New(backend,
		reconcile.WithLocation(loc),
		reconcile.WithWindow(cfg.Reconcile.SpreadWindow),
		reconcile.WithMaxDelta(cfg.Reconcile.MaxDelta),
		reconcile.WithClock(now),
		reconcile.WithResolver(resolver),
		reconcile.WithRecorder(rec),
		reconcile.WithLogger(logger),
	)
	syncer := hierarchy.New(backend,
		hierarchy.WithUpdateConcurrency(cfg.Hierarchy.UpdateConcurrency),
		hierarchy.WithLogger(logger),
	)

	tasks, err := feed.BuildTasks(cfg.Sources, feed.Deps{
		Reconciler: engine,
		Syncer:     syncer,
		Logger:     logger,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("build sources: %w", err)
	}

	sched := schedule.NewScheduler(loc, logger)
	var errs []error
	for _, fc := range cfg.Families {
		fam, err := schedule.NewFamily(schedule.FamilyConfig{
			Name:        fc.Name,
			Schedule:    fc.Schedule,
			MaxParallel: fc.MaxParallel,
			TaskTimeout: fc.TaskTimeout,
			MaxRetries:  fc.Retries(),
			RetryDelay:  fc.RetryDelay,
			IsRetryable: feed.IsRetryable,
		},
			schedule.WithLogger(logger),
			schedule.WithSinks(schedule.LogSink{Logger: logger}, rec, backend),
			schedule.WithClock(now),
		)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, t := range tasks[fc.Name] {
			if err := fam.Register(t); err != nil {
				errs = append(errs, err)
			}
		}
		if err := sched.Add(fam); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		backend.Close()
		return nil, fmt.Errorf("build families: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		metrics:   rec,
		scheduler: sched,
	}, nil
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Error("error closing database", slog.String("error", err.Error()))
	}
}
