package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires each family on its cron expression.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu       sync.Mutex
	families map[string]*Family
	order    []string
	baseCtx  context.Context
}

// NewScheduler creates a scheduler evaluating expressions in loc.
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With(slog.String("source", "cron"))}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:   logger,
		families: make(map[string]*Family),
		baseCtx:  context.Background(),
	}
}

// Add registers f. Families without a schedule are kept for manual triggers
// only.
func (s *Scheduler) Add(f *Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.families[f.Name()]; dup {
		return fmt.Errorf("family %s already registered", f.Name())
	}
	if f.Schedule() != "" {
		if _, err := s.cron.AddFunc(f.Schedule(), func() { s.fire(f) }); err != nil {
			return fmt.Errorf("schedule family %s: %w", f.Name(), err)
		}
	}
	s.families[f.Name()] = f
	s.order = append(s.order, f.Name())
	return nil
}

// Family looks up a registered family by name.
func (s *Scheduler) Family(name string) (*Family, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[name]
	return f, ok
}

// Families returns registered families in registration order.
func (s *Scheduler) Families() []*Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Family, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.families[name])
	}
	return out
}

// Start runs the cron loop until ctx is done, then stops firing and waits
// for in-flight runs. Runs receive ctx, so cancellation reaches tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("next run scheduled",
			slog.String("source", "scheduler"),
			slog.Time("next", e.Next))
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping, waiting for in-flight runs",
		slog.String("source", "scheduler"))
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(f *Family) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	if _, err := f.Trigger(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.logger.Error("batch run failed",
			slog.String("source", "scheduler"),
			slog.String("family", f.Name()),
			slog.String("error", err.Error()))
	}
}

// cronLogger adapts slog to cron's logr-style interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
