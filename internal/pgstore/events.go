package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/adingest/internal/domain"
)

const (
	insertClickSQL = `
		INSERT INTO click_events
		(source, entity_id, occurred_at, referrer_id, referrer_url, synthetic)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, entity_id, occurred_at) DO NOTHING`

	insertActionSQL = `
		INSERT INTO action_events
		(source, entity_id, occurred_at, referrer_id, referrer_url, synthetic, reward)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, entity_id, occurred_at) DO NOTHING`
)

func eventTable(kind domain.EventKind) (string, error) {
	switch kind {
	case domain.KindClick:
		return "click_events", nil
	case domain.KindAction:
		return "action_events", nil
	default:
		return "", fmt.Errorf("unknown event kind %q", kind)
	}
}

// InsertEvents queues every event into one batch inside a transaction and
// returns the number of rows actually inserted.
func (s *Store) InsertEvents(ctx context.Context, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	if err := queueEvents(batch, events); err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	inserted, err := s.sendInTx(ctx, batch, len(events))
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	return inserted, nil
}

// CommitDelta inserts events and raises snap in the same transaction.
// Returns the number of events inserted.
func (s *Store) CommitDelta(ctx context.Context, events []domain.Event, snap domain.Snapshot) (int, error) {
	batch := &pgx.Batch{}
	if err := queueEvents(batch, events); err != nil {
		return 0, fmt.Errorf("commit delta: %w", err)
	}
	batch.Queue(upsertSnapshotSQL, snap.Source, snap.EntityID, snap.Day, snap.Total, snap.UpdatedAt.UnixNano())

	inserted, err := s.sendInTx(ctx, batch, len(events))
	if err != nil {
		return 0, fmt.Errorf("commit delta: %w", err)
	}
	return inserted, nil
}

func queueEvents(batch *pgx.Batch, events []domain.Event) error {
	for _, e := range events {
		switch e.Kind {
		case domain.KindClick:
			batch.Queue(insertClickSQL,
				e.Source, e.EntityID, e.OccurredAt.UnixNano(), e.ReferrerID, e.ReferrerURL, e.Synthetic)
		case domain.KindAction:
			batch.Queue(insertActionSQL,
				e.Source, e.EntityID, e.OccurredAt.UnixNano(), e.ReferrerID, e.ReferrerURL, e.Synthetic, e.Reward)
		default:
			return fmt.Errorf("unknown event kind %q", e.Kind)
		}
	}
	return nil
}

// sendInTx runs batch in a transaction and sums RowsAffected of its first
// counted statements.
func (s *Store) sendInTx(ctx context.Context, batch *pgx.Batch, counted int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, err
		}
		if i < counted {
			inserted += int(tag.RowsAffected())
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// LatestEventTimes returns the newest occurred_at per entity for one source.
func (s *Store) LatestEventTimes(ctx context.Context, kind domain.EventKind, source string, entityIDs []string) (map[string]time.Time, error) {
	table, err := eventTable(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, MAX(occurred_at)
		FROM `+table+`
		WHERE source = $1 AND entity_id = ANY($2)
		GROUP BY entity_id
	`, source, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query latest events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityID string
			latest   int64
		)
		if err := rows.Scan(&entityID, &latest); err != nil {
			return nil, fmt.Errorf("scan latest event: %w", err)
		}
		out[entityID] = time.Unix(0, latest).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest events: %w", err)
	}
	return out, nil
}

// CountEvents counts events for one entity with from <= occurred_at < to.
func (s *Store) CountEvents(ctx context.Context, kind domain.EventKind, source, entityID string, from, to time.Time) (int64, error) {
	table, err := eventTable(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM `+table+`
		WHERE source = $1 AND entity_id = $2 AND occurred_at >= $3 AND occurred_at < $4
	`, source, entityID, from.UnixNano(), to.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ListEvents returns one entity's events ordered by occurred_at.
func (s *Store) ListEvents(ctx context.Context, kind domain.EventKind, source, entityID string) ([]domain.Event, error) {
	table, err := eventTable(kind)
	if err != nil {
		return nil, err
	}
	rewardCol := "NULL::BIGINT"
	if kind == domain.KindAction {
		rewardCol = "reward"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT occurred_at, referrer_id, referrer_url, `+rewardCol+`, synthetic
		FROM `+table+`
		WHERE source = $1 AND entity_id = $2
		ORDER BY occurred_at ASC
	`, source, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		var (
			occurredAt int64
			e          = domain.Event{Kind: kind, Source: source, EntityID: entityID}
		)
		if err := row.Scan(&occurredAt, &e.ReferrerID, &e.ReferrerURL, &e.Reward, &e.Synthetic); err != nil {
			return e, err
		}
		e.OccurredAt = time.Unix(0, occurredAt).UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}
