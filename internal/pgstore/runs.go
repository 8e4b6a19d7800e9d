package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/adingest/internal/domain"
)

const runColumns = `run_id, family, started_at, succeeded, failed, total, total_records, duration_ms, details::TEXT`

// RecordBatch appends a run summary. Recording the same run twice is a no-op.
func (s *Store) RecordBatch(ctx context.Context, summary domain.BatchSummary) error {
	details, err := json.Marshal(summary.Details)
	if err != nil {
		return fmt.Errorf("record batch: marshal details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO batch_runs
		(run_id, family, started_at, succeeded, failed, total, total_records, duration_ms, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::JSONB)
		ON CONFLICT (run_id) DO NOTHING
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

// ListRuns returns runs newest first. An empty family matches all;
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, family string, limit int) ([]domain.BatchSummary, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM batch_runs
		WHERE $1 = '' OR family = $1
		ORDER BY started_at DESC, run_id DESC
		LIMIT $2
	`, family, lim)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BatchSummary, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []domain.BatchSummary{}
	}
	return runs, nil
}

// GetRun returns one run by id, or an error wrapping domain.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (domain.BatchSummary, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM batch_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BatchSummary{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return run, err
}

func scanRun(row pgx.Row) (domain.BatchSummary, error) {
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
	if errors.Is(err, pgx.ErrNoRows) {
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
