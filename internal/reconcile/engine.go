package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/resolve"
)

// Store is the persistence the engine needs.
type Store interface {
	Snapshots(ctx context.Context, source, day string, entityIDs []string) (map[string]domain.Snapshot, error)
	UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error
	InsertEvents(ctx context.Context, events []domain.Event) (int, error)
	// CommitDelta inserts events and raises snap atomically.
	CommitDelta(ctx context.Context, events []domain.Event, snap domain.Snapshot) (int, error)
	LatestEventTimes(ctx context.Context, kind domain.EventKind, source string, entityIDs []string) (map[string]time.Time, error)
	CountEvents(ctx context.Context, kind domain.EventKind, source, entityID string, from, to time.Time) (int64, error)
}

// Resolver maps referrer URLs to link ids.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) resolve.Resolution
}

// EventRecorder observes how many synthetic events a source produced.
type EventRecorder interface {
	RecordSyntheticEvents(source string, n int)
}

// Observation is one entity's cumulative counter as reported by a source.
type Observation struct {
	EntityID    string
	Total       int64
	ReferrerURL string
}

// Report summarizes one reconciliation call.
type Report struct {
	Entities     int `json:"entities"`
	Events       int `json:"events"`
	Bootstrapped int `json:"bootstrapped"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the time zone that defines the source's calendar day.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithWindow sets the trailing window for synthetic timestamps.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithMaxDelta caps how many events one observation may materialize.
// Larger jumps fail the entity and leave its snapshot untouched.
func WithMaxDelta(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDelta = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithResolver enables referrer attribution on produced events.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRecorder reports synthetic event counts.
func WithRecorder(r EventRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine reconciles counter observations into events.
//
// Thread-safety: safe for concurrent use on different sources. Concurrent
// calls for the same source and entity may race on the snapshot.
type Engine struct {
	store    Store
	resolver Resolver
	recorder EventRecorder
	loc      *time.Location
	window   time.Duration
	maxDelta int64
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Engine.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		loc:      time.UTC,
		window:   DefaultWindow,
		maxDelta: DefaultMaxDelta,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile processes one run's observations for source.
//
// Returns an error only if today's snapshots or latest event times cannot be
// read. Per-entity failures are logged and counted in Report.Failed.
func (e *Engine) Reconcile(ctx context.Context, source string, observations []Observation) (Report, error) {
	var report Report
	obs := dedupe(observations)
	if len(obs) == 0 {
		return report, nil
	}

	now := e.now()
	day := Day(now, e.loc)
	logger := e.logger.With(slog.String("source", "reconcile"), slog.String("feed", source), slog.String("day", day))

	ids := make([]string, len(obs))
	for i, o := range obs {
		ids[i] = o.EntityID
	}
	snaps, err := e.store.Snapshots(ctx, source, day, ids)
	if err != nil {
		return report, fmt.Errorf("load snapshots for %s: %w", source, err)
	}
	latest, err := e.store.LatestEventTimes(ctx, domain.KindClick, source, ids)
	if err != nil {
		return report, fmt.Errorf("load latest events for %s: %w", source, err)
	}

	for _, o := range obs {
		report.Entities++
		prev, had := snaps[o.EntityID]
		last, hasLast := latest[o.EntityID]

		inserted, err := e.reconcileOne(ctx, source, day, now, o, prev, had, last, hasLast, logger)
		report.Events += inserted
		if err != nil {
			report.Failed++
			logger.Error("entity reconciliation failed",
				slog.String("entity", o.EntityID),
				slog.Int64("total", o.Total),
				slog.String("error", err.Error()))
			continue
		}
		switch {
		case !had:
			report.Bootstrapped++
		case o.Total <= prev.Total:
			report.Unchanged++
		}
	}

	if e.recorder != nil && report.Events > 0 {
		e.recorder.RecordSyntheticEvents(source, report.Events)
	}
	logger.Info("reconciled counters",
		slog.Int("entities", report.Entities),
		slog.Int("events", report.Events),
		slog.Int("bootstrapped", report.Bootstrapped),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (e *Engine) reconcileOne(
	ctx context.Context,
	source, day string,
	now time.Time,
	o Observation,
	prev domain.Snapshot, had bool,
	last time.Time, hasLast bool,
	logger *slog.Logger,
) (int, error) {
	var base int64
	if had {
		base = prev.Total
	}
	delta := o.Total - base

	if delta <= 0 {
		if had {
			if delta < 0 {
				logger.Warn("observed total below snapshot, ignoring",
					slog.String("entity", o.EntityID),
					slog.Int64("observed", o.Total),
					slog.Int64("snapshot", prev.Total))
			}
			return 0, nil
		}
		seed := max(o.Total, 0)
		if err := e.store.UpsertSnapshot(ctx, e.snapshot(source, o.EntityID, day, seed, now)); err != nil {
			return 0, fmt.Errorf("seed snapshot: %w", err)
		}
		return 0, nil
	}

	if delta > e.maxDelta {
		return 0, fmt.Errorf("delta %d exceeds limit %d (snapshot %d, observed %d)", delta, e.maxDelta, base, o.Total)
	}

	var refID *int64
	refURL := o.ReferrerURL
	if e.resolver != nil && refURL != "" {
		res := e.resolver.Resolve(ctx, refURL)
		refID = res.ID
	}

	dayStart, _ := dayBounds(now, e.loc)
	stamps := Spread(windowStart(now, e.window, dayStart, last, hasLast), now, delta)
	events := make([]domain.Event, len(stamps))
	for i, ts := range stamps {
		events[i] = domain.Event{
			Kind:        domain.KindClick,
			Source:      source,
			EntityID:    o.EntityID,
			OccurredAt:  ts,
			ReferrerID:  refID,
			ReferrerURL: refURL,
			Synthetic:   true,
		}
	}

	inserted, err := e.store.CommitDelta(ctx, events, e.snapshot(source, o.EntityID, day, o.Total, now))
	if err != nil {
		return 0, fmt.Errorf("commit %d synthetic events and snapshot %d: %w", delta, o.Total, err)
	}
	if int64(inserted) < delta {
		logger.Warn("synthetic events skipped as duplicates",
			slog.String("entity", o.EntityID),
			slog.Int64("delta", delta),
			slog.Int("inserted", inserted))
	}
	return inserted, nil
}

func (e *Engine) snapshot(source, entityID, day string, total int64, now time.Time) domain.Snapshot {
	return domain.Snapshot{Source: source, EntityID: entityID, Day: day, Total: total, UpdatedAt: now}
}

// dedupe keeps one observation per entity, the highest total, in first-seen
// order. Observations without an entity id are dropped.
func dedupe(observations []Observation) []Observation {
	index := make(map[string]int, len(observations))
	out := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if o.EntityID == "" {
			continue
		}
		if i, ok := index[o.EntityID]; ok {
			if o.Total > out[i].Total {
				out[i] = o
			}
			continue
		}
		index[o.EntityID] = len(out)
		out = append(out, o)
	}
	return out
}
