package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/domain"
)

func TestRuns_RecordListGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := domain.Summarize("run-1", "today", baseTime, 200*time.Millisecond, []domain.TaskOutcome{
		{Task: "A", Success: true, Count: 3, Attempts: 1},
		{Task: "B", Err: "task B failed: boom", Attempts: 2},
	})
	second := domain.Summarize("run-2", "today", baseTime.Add(3*time.Minute), time.Second, nil)
	other := domain.Summarize("run-3", "previous-day", baseTime.Add(time.Hour), time.Second, nil)

	for _, r := range []domain.BatchSummary{first, second, other} {
		require.NoError(t, s.RecordBatch(ctx, r))
	}
	// Recording twice is a no-op.
	require.NoError(t, s.RecordBatch(ctx, first))

	runs, err := s.ListRuns(ctx, "today", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)

	all, err := s.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "run-3", all[0].RunID)

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 3, got.TotalRecords)
	assert.Equal(t, int64(200), got.DurationMs)
	assert.Equal(t, baseTime, got.StartedAt)
	require.Len(t, got.Details, 2)
	assert.Equal(t, "task B failed: boom", got.Details[1].Err)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRuns_EmptyListIsNotNil(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}
