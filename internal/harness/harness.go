package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/reconcile"
	"github.com/roach88/adingest/internal/resolve"
	"github.com/roach88/adingest/internal/store"
	"github.com/roach88/adingest/internal/testutil"
)

// StepTrace records what one step did.
type StepTrace struct {
	Step   int              `json:"step"`
	At     string           `json:"at"`
	Kind   string           `json:"kind"`
	Report reconcile.Report `json:"report"`
}

// Result is the outcome of one scenario.
type Result struct {
	Pass   bool        `json:"pass"`
	Trace  []StepTrace `json:"trace"`
	Errors []string    `json:"errors,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes sc against a fresh in-memory store. The returned error is
// reserved for setup failures; expectation mismatches are in Result.Errors.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	loc := time.UTC
	if sc.Timezone != "" {
		l, err := time.LoadLocation(sc.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
		loc = l
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	param := sc.QueryParam
	if param == "" {
		param = resolve.DefaultParam
	}
	first, _ := time.Parse(time.RFC3339, sc.Steps[0].At)
	clock := testutil.NewFakeClock(first)

	opts := []reconcile.Option{
		reconcile.WithLocation(loc),
		reconcile.WithClock(clock.Now),
		reconcile.WithResolver(resolve.New(st, param, logger)),
		reconcile.WithLogger(logger),
	}
	if sc.Window > 0 {
		opts = append(opts, reconcile.WithWindow(sc.Window))
	}
	engine := reconcile.New(st, opts...)

	result := &Result{Pass: true, Trace: []StepTrace{}}
	for i, step := range sc.Steps {
		at, err := time.Parse(time.RFC3339, step.At)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		clock.Set(at)

		trace := StepTrace{Step: i + 1, At: at.In(loc).Format(time.RFC3339)}
		var report reconcile.Report
		if step.Events != nil {
			trace.Kind = step.Events.Kind
			report, err = engine.IngestEvents(ctx, sc.Source, domain.EventKind(step.Events.Kind),
				toEvents(step.Events.Items), step.Events.Refresh)
		} else {
			trace.Kind = "counters"
			report, err = engine.Reconcile(ctx, sc.Source, toObservations(step.Observe))
		}
		if err != nil {
			result.addError("step %d: %v", i+1, err)
			continue
		}
		trace.Report = report
		result.Trace = append(result.Trace, trace)
		checkExpect(result, i+1, step.Expect, report)
	}

	for i, a := range sc.Assertions {
		if err := evaluate(ctx, st, sc.Source, a); err != nil {
			result.addError("assertion %d (%s): %v", i+1, a.Type, err)
		}
	}
	return result, nil
}

func toObservations(in []Observation) []reconcile.Observation {
	out := make([]reconcile.Observation, len(in))
	for i, o := range in {
		out[i] = reconcile.Observation{EntityID: o.Entity, Total: o.Total, ReferrerURL: o.ReferrerURL}
	}
	return out
}

func toEvents(in []EventItem) []domain.Event {
	out := make([]domain.Event, len(in))
	for i, it := range in {
		at, _ := time.Parse(time.RFC3339, it.At)
		out[i] = domain.Event{
			EntityID:    it.Entity,
			OccurredAt:  at.UTC(),
			ReferrerURL: it.ReferrerURL,
			Reward:      it.Reward,
		}
	}
	return out
}

func checkExpect(result *Result, step int, want *Expect, got reconcile.Report) {
	if want == nil {
		return
	}
	check := func(field string, want *int, got int) {
		if want != nil && *want != got {
			result.addError("step %d: %s = %d, expected %d", step, field, got, *want)
		}
	}
	check("events", want.Events, got.Events)
	check("bootstrapped", want.Bootstrapped, got.Bootstrapped)
	check("unchanged", want.Unchanged, got.Unchanged)
	check("failed", want.Failed, got.Failed)
}
