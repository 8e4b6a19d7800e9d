package schedule

import (
	"context"
	"log/slog"

	"github.com/roach88/adingest/internal/domain"
)

// Sink receives the summary of every completed run.
type Sink interface {
	RecordBatch(ctx context.Context, summary domain.BatchSummary) error
}

// SkipRecorder is implemented by sinks that also count overlap skips.
type SkipRecorder interface {
	RecordSkip(family string)
}

// LogSink writes one structured entry per run.
type LogSink struct {
	Logger *slog.Logger
}

// RecordBatch implements Sink.
func (s LogSink) RecordBatch(_ context.Context, summary domain.BatchSummary) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if summary.Failed > 0 {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "batch run complete",
		slog.String("source", "scheduler"),
		slog.String("family", summary.Family),
		slog.String("run_id", summary.RunID),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("total", summary.Total),
		slog.Int("total_records", summary.TotalRecords),
		slog.Int64("duration_ms", summary.DurationMs),
	)
	return nil
}
