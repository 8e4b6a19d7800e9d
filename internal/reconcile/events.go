package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/adingest/internal/domain"
)

// IngestEvents stores events reported individually by source, skipping
// duplicates on their natural key. Referrer URLs are resolved once per
// distinct URL.
//
// With refresh set, each touched entity's snapshot for today is raised to
// the number of its stored click events. That snapshot is an audit value
// only; Reconcile never mixes it into delta math for per-event sources.
func (e *Engine) IngestEvents(ctx context.Context, source string, kind domain.EventKind, events []domain.Event, refresh bool) (Report, error) {
	var report Report
	if !kind.Valid() {
		return report, fmt.Errorf("ingest events: unknown kind %q", kind)
	}
	if len(events) == 0 {
		return report, nil
	}
	logger := e.logger.With(slog.String("source", "reconcile"), slog.String("feed", source), slog.String("kind", string(kind)))

	resolved := make(map[string]*int64)
	entities := make(map[string]struct{})
	var order []string
	batch := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if ev.EntityID == "" || ev.OccurredAt.IsZero() {
			report.Failed++
			logger.Warn("skipping event without entity or timestamp",
				slog.String("entity", ev.EntityID))
			continue
		}
		ev.Kind = kind
		ev.Source = source
		ev.Synthetic = false
		if ev.ReferrerID == nil && ev.ReferrerURL != "" && e.resolver != nil {
			id, ok := resolved[ev.ReferrerURL]
			if !ok {
				id = e.resolver.Resolve(ctx, ev.ReferrerURL).ID
				resolved[ev.ReferrerURL] = id
			}
			ev.ReferrerID = id
		}
		batch = append(batch, ev)
		if _, seen := entities[ev.EntityID]; !seen {
			entities[ev.EntityID] = struct{}{}
			order = append(order, ev.EntityID)
		}
	}
	report.Entities = len(order)

	inserted, err := e.store.InsertEvents(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("insert %d %s events: %w", len(batch), kind, err)
	}
	report.Events = inserted
	report.Unchanged = len(batch) - inserted

	if refresh && kind == domain.KindClick {
		now := e.now()
		day := Day(now, e.loc)
		from, to := dayBounds(now, e.loc)
		for _, id := range order {
			n, err := e.store.CountEvents(ctx, kind, source, id, from, to)
			if err == nil {
				err = e.store.UpsertSnapshot(ctx, e.snapshot(source, id, day, n, now))
			}
			if err != nil {
				report.Failed++
				logger.Error("snapshot refresh failed",
					slog.String("entity", id),
					slog.String("error", err.Error()))
			}
		}
	}

	logger.Info("ingested events",
		slog.Int("entities", report.Entities),
		slog.Int("inserted", report.Events),
		slog.Int("duplicates", report.Unchanged),
		slog.Int("failed", report.Failed))
	return report, nil
}
