package harness

import (
	"context"
	"fmt"

	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/store"
)

func evaluate(ctx context.Context, st *store.Store, source string, a Assertion) error {
	switch a.Type {
	case AssertEventCount:
		kind := domain.KindClick
		if a.Kind != "" {
			kind = domain.EventKind(a.Kind)
		}
		events, err := st.ListEvents(ctx, kind, source, a.Entity)
		if err != nil {
			return err
		}
		if len(events) != *a.Count {
			return fmt.Errorf("%s %s events for %s: got %d, expected %d", source, kind, a.Entity, len(events), *a.Count)
		}

	case AssertSnapshot, AssertNoSnapshot:
		snaps, err := st.Snapshots(ctx, source, a.Day, []string{a.Entity})
		if err != nil {
			return err
		}
		snap, ok := snaps[a.Entity]
		if a.Type == AssertNoSnapshot {
			if ok {
				return fmt.Errorf("snapshot for %s on %s exists with total %d", a.Entity, a.Day, snap.Total)
			}
			return nil
		}
		if !ok {
			return fmt.Errorf("no snapshot for %s on %s", a.Entity, a.Day)
		}
		if snap.Total != *a.Total {
			return fmt.Errorf("snapshot for %s on %s: got %d, expected %d", a.Entity, a.Day, snap.Total, *a.Total)
		}

	case AssertUniqueTimestamps:
		events, err := st.ListEvents(ctx, domain.KindClick, source, a.Entity)
		if err != nil {
			return err
		}
		for i := 1; i < len(events); i++ {
			if !events[i].OccurredAt.After(events[i-1].OccurredAt) {
				return fmt.Errorf("events %d and %d of %s share or reverse timestamp %s",
					i-1, i, a.Entity, events[i].OccurredAt)
			}
		}

	case AssertReferrerCount:
		n, err := st.CountReferrers(ctx, a.Value)
		if err != nil {
			return err
		}
		if n != *a.Count {
			return fmt.Errorf("referrer %q rows: got %d, expected %d", a.Value, n, *a.Count)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
