package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/testutil"
)

func TestScheduler_FiresFamiliesAndStops(t *testing.T) {
	sink := testutil.NewRecordingSink()
	f := newTestFamily(t, FamilyConfig{Name: "every-second", Schedule: "@every 1s"}, sink)

	var runs atomic.Int32
	require.NoError(t, f.Register(CountFunc("tick", func(context.Context) (int, error) {
		runs.Add(1)
		return 1, nil
	})))

	s := NewScheduler(time.UTC, quietLogger())
	require.NoError(t, s.Add(f))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.NotEmpty(t, sink.Summaries())
}

func TestScheduler_RegistryLookup(t *testing.T) {
	s := NewScheduler(nil, quietLogger())
	manual := newTestFamily(t, FamilyConfig{Name: "manual"}, testutil.NewRecordingSink())
	hourly := newTestFamily(t, FamilyConfig{Name: "previous-day", Schedule: "5 1,7,13,19 * * *"}, testutil.NewRecordingSink())

	require.NoError(t, s.Add(manual))
	require.NoError(t, s.Add(hourly))
	require.Error(t, s.Add(manual))

	got, ok := s.Family("previous-day")
	require.True(t, ok)
	assert.Same(t, hourly, got)

	_, ok = s.Family("missing")
	assert.False(t, ok)

	families := s.Families()
	require.Len(t, families, 2)
	assert.Equal(t, "manual", families[0].Name())
}
