package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/adingest/internal/domain"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = domain.ErrRunNotFound

// RecordBatch appends a run summary to the run log.
// Uses ON CONFLICT(run_id) DO NOTHING - recording the same run twice is a no-op.
func (s *Store) RecordBatch(ctx context.Context, summary domain.BatchSummary) error {
	details, err := json.Marshal(summary.Details)
	if err != nil {
		return fmt.Errorf("record batch: marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_runs
		(run_id, family, started_at, succeeded, failed, total, total_records, duration_ms, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		summary.RunID,
		summary.Family,
		summary.StartedAt.UnixNano(),
		summary.Succeeded,
		summary.Failed,
		summary.Total,
		summary.TotalRecords,
		summary.DurationMs,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty family
// matches every family. limit <= 0 means no limit.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context, family string, limit int) ([]domain.BatchSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, family, started_at, succeeded, failed, total, total_records, duration_ms, details
		FROM batch_runs
		WHERE ? = '' OR family = ?
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, family, family, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.BatchSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (domain.BatchSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, family, started_at, succeeded, failed, total, total_records, duration_ms, details
		FROM batch_runs WHERE run_id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.BatchSummary, error) {
	var (
		run       domain.BatchSummary
		startedAt int64
		details   string
	)
	err := row.Scan(
		&run.RunID,
		&run.Family,
		&startedAt,
		&run.Succeeded,
		&run.Failed,
		&run.Total,
		&run.TotalRecords,
		&run.DurationMs,
		&details,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if err := json.Unmarshal([]byte(details), &run.Details); err != nil {
		return run, fmt.Errorf("unmarshal run details: %w", err)
	}
	return run, nil
}
