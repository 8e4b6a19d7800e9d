package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/adingest/internal/domain"
)

// Snapshots returns today's snapshots for entityIDs of one source, keyed by
// entity id. Entities without a snapshot are absent from the map.
func (s *Store) Snapshots(ctx context.Context, source, day string, entityIDs []string) (map[string]domain.Snapshot, error) {
	out := make(map[string]domain.Snapshot, len(entityIDs))
	for _, ids := range chunk(entityIDs, maxBatchParams) {
		args := make([]any, 0, len(ids)+2)
		args = append(args, source, day)
		for _, id := range ids {
			args = append(args, id)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT entity_id, total, updated_at
			FROM daily_click_snapshots
			WHERE source = ? AND day = ? AND entity_id IN (`+placeholders(len(ids))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("query snapshots: %w", err)
		}

		for rows.Next() {
			var (
				entityID  string
				total     int64
				updatedAt int64
			)
			if err := rows.Scan(&entityID, &total, &updatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan snapshot: %w", err)
			}
			out[entityID] = domain.Snapshot{
				Source:    source,
				EntityID:  entityID,
				Day:       day,
				Total:     total,
				UpdatedAt: time.Unix(0, updatedAt).UTC(),
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate snapshots: %w", err)
		}
	}
	return out, nil
}

// UpsertSnapshot creates the snapshot row or raises its total.
// A lower total than the stored one is ignored.
func (s *Store) UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	return upsertSnapshot(ctx, s.db, snap)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSnapshot(ctx context.Context, db execer, snap domain.Snapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO daily_click_snapshots (source, entity_id, day, total, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, entity_id, day) DO UPDATE SET
			total = excluded.total,
			updated_at = excluded.updated_at
		WHERE excluded.total >= daily_click_snapshots.total
	`,
		snap.Source,
		snap.EntityID,
		snap.Day,
		snap.Total,
		snap.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}
