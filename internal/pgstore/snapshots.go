package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/adingest/internal/domain"
)

// Snapshots returns the snapshots of entityIDs for one source and day.
func (s *Store) Snapshots(ctx context.Context, source, day string, entityIDs []string) (map[string]domain.Snapshot, error) {
	out := make(map[string]domain.Snapshot, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, total, updated_at
		FROM daily_click_snapshots
		WHERE source = $1 AND day = $2 AND entity_id = ANY($3)
	`, source, day, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityID  string
			total     int64
			updatedAt int64
		)
		if err := rows.Scan(&entityID, &total, &updatedAt); err != nil {
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// UpsertSnapshot creates the snapshot row or raises its total.
func (s *Store) UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, upsertSnapshotSQL, snap.Source, snap.EntityID, snap.Day, snap.Total, snap.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

const upsertSnapshotSQL = `
	INSERT INTO daily_click_snapshots (source, entity_id, day, total, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (source, entity_id, day) DO UPDATE SET
		total = EXCLUDED.total,
		updated_at = EXCLUDED.updated_at
	WHERE EXCLUDED.total >= daily_click_snapshots.total`

// FindReferrer looks up a referrer link by value.
func (s *Store) FindReferrer(ctx context.Context, value string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM referrer_links WHERE value = $1`, value).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find referrer: %w", err)
	}
	return id, true, nil
}

// CreateReferrer inserts a referrer link and returns its id. A duplicate
// value yields an error wrapping domain.ErrConflict.
func (s *Store) CreateReferrer(ctx context.Context, value string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO referrer_links (value, created_at) VALUES ($1, $2) RETURNING id
	`, value, time.Now().UnixNano()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create referrer %q: %w", value, domain.ErrConflict)
		}
		return 0, fmt.Errorf("create referrer: %w", err)
	}
	return id, nil
}

// CountReferrers returns the number of rows with the given value.
func (s *Store) CountReferrers(ctx context.Context, value string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM referrer_links WHERE value = $1
	`, value).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrers: %w", err)
	}
	return n, nil
}
