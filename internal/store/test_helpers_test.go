package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/domain"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func clickEvent(source, entity string, at time.Time) domain.Event {
	return domain.Event{
		Kind:       domain.KindClick,
		Source:     source,
		EntityID:   entity,
		OccurredAt: at,
		Synthetic:  true,
	}
}
