package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/adingest/internal/deadline"
	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/permit"
	"github.com/roach88/adingest/internal/retry"
)

// FamilyConfig holds the settings read once at startup.
type FamilyConfig struct {
	Name string
	// Schedule is a standard 5-field cron expression or descriptor
	// (e.g. "@every 3m"). Empty means manual trigger only.
	Schedule    string
	MaxParallel int
	TaskTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	// IsRetryable classifies task errors. Nil retries every error.
	IsRetryable func(error) bool
}

// FamilyOption configures a Family.
type FamilyOption func(*Family)

// WithLogger sets the family's logger.
func WithLogger(logger *slog.Logger) FamilyOption {
	return func(f *Family) { f.logger = logger }
}

// WithSinks adds summary sinks.
func WithSinks(sinks ...Sink) FamilyOption {
	return func(f *Family) { f.sinks = append(f.sinks, sinks...) }
}

// WithIDGenerator replaces the UUIDv7 run ID generator.
func WithIDGenerator(gen IDGenerator) FamilyOption {
	return func(f *Family) { f.ids = gen }
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) FamilyOption {
	return func(f *Family) { f.now = now }
}

// Family is a named group of tasks with its own permit pool and overlap
// latch.
//
// Thread-safety: Trigger and Register are safe for concurrent use.
type Family struct {
	name     string
	schedule string
	timeout  time.Duration
	pool     *permit.Pool
	policy   retry.Policy

	mu    sync.Mutex
	tasks []Task
	names map[string]struct{}

	running atomic.Bool

	sinks  []Sink
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// NewFamily validates cfg and builds a Family with an empty registry.
func NewFamily(cfg FamilyConfig, opts ...FamilyOption) (*Family, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("family name is required")
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("family %s: invalid schedule %q: %w", cfg.Name, cfg.Schedule, err)
		}
	}
	pool, err := permit.New(cfg.MaxParallel)
	if err != nil {
		return nil, fmt.Errorf("family %s: %w", cfg.Name, err)
	}

	f := &Family{
		name:     cfg.Name,
		schedule: cfg.Schedule,
		timeout:  cfg.TaskTimeout,
		pool:     pool,
		names:    make(map[string]struct{}),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("family", f.name))
	f.policy = retry.Policy{
		MaxRetries:  cfg.MaxRetries,
		Delay:       cfg.RetryDelay,
		IsRetryable: cfg.IsRetryable,
		Logger:      f.logger,
	}
	return f, nil
}

// Name returns the family name.
func (f *Family) Name() string { return f.name }

// Schedule returns the cron expression, or "" for manual-only families.
func (f *Family) Schedule() string { return f.schedule }

// Pool exposes the family's permit pool for inspection.
func (f *Family) Pool() *permit.Pool { return f.pool }

// Running reports whether a run is active.
func (f *Family) Running() bool { return f.running.Load() }

// Register appends task to the registry. Tasks run in registration order.
func (f *Family) Register(task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := task.Name()
	if _, dup := f.names[name]; dup {
		return fmt.Errorf("family %s: %w: %s", f.name, ErrDuplicateTask, name)
	}
	f.names[name] = struct{}{}
	f.tasks = append(f.tasks, task)
	return nil
}

// Tasks returns the registered task names in declared order.
func (f *Family) Tasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.tasks))
	for i, t := range f.tasks {
		names[i] = t.Name()
	}
	return names
}

// Trigger runs every registered task once and returns the run summary.
//
// If the family is already running, Trigger dispatches nothing and returns
// ErrRunInProgress. Task failures are reported in the summary, never as an
// error.
func (f *Family) Trigger(ctx context.Context) (domain.BatchSummary, error) {
	if !f.running.CompareAndSwap(false, true) {
		f.logger.Warn("skipping trigger, previous run still in progress",
			slog.String("source", "scheduler"))
		for _, s := range f.sinks {
			if r, ok := s.(SkipRecorder); ok {
				r.RecordSkip(f.name)
			}
		}
		return domain.BatchSummary{}, ErrRunInProgress
	}
	defer f.running.Store(false)

	runID := f.ids.Generate()
	start := f.now()
	f.logger.Info("batch run started",
		slog.String("source", "scheduler"),
		slog.String("run_id", runID))

	f.mu.Lock()
	tasks := make([]Task, len(f.tasks))
	copy(tasks, f.tasks)
	f.mu.Unlock()

	outcomes := f.dispatch(ctx, tasks)
	summary := domain.Summarize(runID, f.name, start, f.now().Sub(start), outcomes)

	// Sinks still receive the summary when the run context was cancelled.
	emitCtx := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		if err := s.RecordBatch(emitCtx, summary); err != nil {
			f.logger.Error("failed to record batch summary",
				slog.String("source", "scheduler"),
				slog.String("run_id", runID),
				slog.String("error", err.Error()))
		}
	}
	return summary, nil
}

func (f *Family) dispatch(ctx context.Context, tasks []Task) []domain.TaskOutcome {
	var (
		mu       sync.Mutex
		outcomes = make([]domain.TaskOutcome, 0, len(tasks))
		wg       sync.WaitGroup
	)
	record := func(o domain.TaskOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for i, task := range tasks {
		if err := f.pool.Acquire(ctx); err != nil {
			for _, skipped := range tasks[i:] {
				record(domain.TaskOutcome{
					Task: skipped.Name(),
					Err:  fmt.Sprintf("not dispatched: %v", err),
				})
			}
			f.logger.Warn("run cancelled before all tasks were dispatched",
				slog.String("source", "scheduler"),
				slog.Int("undispatched", len(tasks)-i))
			break
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer f.pool.Release()
			record(f.runTask(ctx, task))
		}(task)
	}

	wg.Wait()
	return outcomes
}

func (f *Family) runTask(ctx context.Context, task Task) domain.TaskOutcome {
	name := task.Name()
	start := f.now()

	var out domain.Outcome
	attempts, err := f.policy.Do(ctx, name, func(ctx context.Context) error {
		o, err := deadline.Run(ctx, name, f.timeout, guarded(task))
		if err != nil {
			return err
		}
		out = o
		return nil
	})

	outcome := domain.TaskOutcome{
		Task:     name,
		Attempts: attempts,
		Duration: f.now().Sub(start),
	}
	if err != nil {
		taskErr := &TaskError{Task: name, Attempts: attempts, Err: err}
		outcome.Err = taskErr.Error()
		outcome.Timeout = deadline.IsTimeout(err)
		f.logger.Error("task failed",
			slog.String("source", "scheduler"),
			slog.String("task", name),
			slog.Int("attempts", attempts),
			slog.Bool("timeout", outcome.Timeout),
			slog.String("error", err.Error()))
		return outcome
	}

	outcome.Success = true
	outcome.Count = out.Count
	f.logger.Debug("task succeeded",
		slog.String("source", "scheduler"),
		slog.String("task", name),
		slog.Int("count", out.Count),
		slog.Int("attempts", attempts))
	return outcome
}

// guarded converts a task panic into a *PanicError. It runs inside the
// deadline goroutine, which is where the panic would surface.
func guarded(task Task) func(context.Context) (domain.Outcome, error) {
	return func(ctx context.Context) (out domain.Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Task: task.Name(), Value: r}
			}
		}()
		return task.Run(ctx)
	}
}
