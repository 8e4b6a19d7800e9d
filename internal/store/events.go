package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/adingest/internal/domain"
)

func insertEventSQL(kind domain.EventKind) (string, error) {
	switch kind {
	case domain.KindClick:
		return `
			INSERT INTO click_events
			(source, entity_id, occurred_at, referrer_id, referrer_url, synthetic)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source, entity_id, occurred_at) DO NOTHING
		`, nil
	case domain.KindAction:
		return `
			INSERT INTO action_events
			(source, entity_id, occurred_at, referrer_id, referrer_url, synthetic, reward)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source, entity_id, occurred_at) DO NOTHING
		`, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", kind)
	}
}

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

// InsertEvents writes events in one transaction, skipping duplicates on
// (source, entity_id, occurred_at). Returns the number of rows inserted.
//
// Either every non-duplicate row is stored or none is.
func (s *Store) InsertEvents(ctx context.Context, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted, err := insertEventsTx(ctx, tx, events)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert events: commit: %w", err)
	}
	return inserted, nil
}

// CommitDelta inserts events and raises snap in one transaction, so a
// snapshot never lags behind the events it accounts for. Duplicates are
// skipped as in InsertEvents. Returns the number of events inserted.
func (s *Store) CommitDelta(ctx context.Context, events []domain.Event, snap domain.Snapshot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("commit delta: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted, err := insertEventsTx(ctx, tx, events)
	if err != nil {
		return 0, fmt.Errorf("commit delta: %w", err)
	}
	if err := upsertSnapshot(ctx, tx, snap); err != nil {
		return 0, fmt.Errorf("commit delta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delta: commit: %w", err)
	}
	return inserted, nil
}

func insertEventsTx(ctx context.Context, tx *sql.Tx, events []domain.Event) (int, error) {
	stmts := make(map[domain.EventKind]*sql.Stmt, 2)
	defer func() {
		for _, st := range stmts {
			st.Close()
		}
	}()

	inserted := 0
	for _, e := range events {
		st, ok := stmts[e.Kind]
		if !ok {
			query, err := insertEventSQL(e.Kind)
			if err != nil {
				return 0, err
			}
			st, err = tx.PrepareContext(ctx, query)
			if err != nil {
				return 0, fmt.Errorf("prepare: %w", err)
			}
			stmts[e.Kind] = st
		}

		args := []any{
			e.Source,
			e.EntityID,
			e.OccurredAt.UnixNano(),
			nullableInt(e.ReferrerID),
			e.ReferrerURL,
			e.Synthetic,
		}
		if e.Kind == domain.KindAction {
			args = append(args, nullableInt(e.Reward))
		}
		res, err := st.ExecContext(ctx, args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// LatestEventTimes returns the newest occurred_at per entity for one source.
// Entities with no events are absent from the map.
func (s *Store) LatestEventTimes(ctx context.Context, kind domain.EventKind, source string, entityIDs []string) (map[string]time.Time, error) {
	table, err := eventTable(kind)
	if err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(entityIDs))
	for _, ids := range chunk(entityIDs, maxBatchParams) {
		args := make([]any, 0, len(ids)+1)
		args = append(args, source)
		for _, id := range ids {
			args = append(args, id)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT entity_id, MAX(occurred_at)
			FROM `+table+`
			WHERE source = ? AND entity_id IN (`+placeholders(len(ids))+`)
			GROUP BY entity_id
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("query latest events: %w", err)
		}
		for rows.Next() {
			var (
				entityID string
				latest   int64
			)
			if err := rows.Scan(&entityID, &latest); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan latest event: %w", err)
			}
			out[entityID] = time.Unix(0, latest).UTC()
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate latest events: %w", err)
		}
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
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM `+table+`
		WHERE source = ? AND entity_id = ? AND occurred_at >= ? AND occurred_at < ?
	`, source, entityID, from.UnixNano(), to.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ListEvents returns one entity's events ordered by occurred_at.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListEvents(ctx context.Context, kind domain.EventKind, source, entityID string) ([]domain.Event, error) {
	table, err := eventTable(kind)
	if err != nil {
		return nil, err
	}

	rewardCol := "NULL"
	if kind == domain.KindAction {
		rewardCol = "reward"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, referrer_id, referrer_url, `+rewardCol+`, synthetic
		FROM `+table+`
		WHERE source = ? AND entity_id = ?
		ORDER BY occurred_at ASC
	`, source, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			occurredAt int64
			referrerID sql.NullInt64
			reward     sql.NullInt64
			e          = domain.Event{Kind: kind, Source: source, EntityID: entityID}
		)
		if err := rows.Scan(&occurredAt, &referrerID, &e.ReferrerURL, &reward, &e.Synthetic); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OccurredAt = time.Unix(0, occurredAt).UTC()
		if referrerID.Valid {
			v := referrerID.Int64
			e.ReferrerID = &v
		}
		if reward.Valid {
			v := reward.Int64
			e.Reward = &v
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
