package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/domain"
)

func TestInsertEvents_SkipsDuplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	events := []domain.Event{
		clickEvent("network-a", "L", baseTime),
		clickEvent("network-a", "L", baseTime.Add(time.Second)),
	}
	n, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same natural keys plus one new one.
	events = append(events, clickEvent("network-a", "L", baseTime.Add(2*time.Second)))
	n, err = s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same timestamp for a different source is a different key.
	n, err = s.InsertEvents(ctx, []domain.Event{clickEvent("network-b", "L", baseTime)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := s.ListEvents(ctx, domain.KindClick, "network-a", "L")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.True(t, stored[0].Synthetic)
	assert.Equal(t, baseTime, stored[0].OccurredAt)
}

func TestInsertEvents_ActionEventsKeepReward(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	reward := int64(1500)
	refID, err := s.CreateReferrer(ctx, "cr-77")
	require.NoError(t, err)

	n, err := s.InsertEvents(ctx, []domain.Event{{
		Kind:        domain.KindAction,
		Source:      "network-a",
		EntityID:    "order-1",
		OccurredAt:  baseTime,
		ReferrerID:  &refID,
		ReferrerURL: "https://lp.example/?ref=cr-77",
		Reward:      &reward,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := s.ListEvents(ctx, domain.KindAction, "network-a", "order-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Reward)
	assert.Equal(t, int64(1500), *stored[0].Reward)
	require.NotNil(t, stored[0].ReferrerID)
	assert.Equal(t, refID, *stored[0].ReferrerID)
	assert.False(t, stored[0].Synthetic)
}

func TestInsertEvents_UnknownKindRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertEvents(ctx, []domain.Event{
		clickEvent("network-a", "L", baseTime),
		{Kind: "impression", Source: "network-a", EntityID: "L", OccurredAt: baseTime},
	})
	require.Error(t, err)

	stored, err := s.ListEvents(ctx, domain.KindClick, "network-a", "L")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestInsertEvents_Empty(t *testing.T) {
	s := createTestStore(t)
	n, err := s.InsertEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLatestEventTimesAndCount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var events []domain.Event
	for i := 0; i < 5; i++ {
		events = append(events, clickEvent("network-a", "L", baseTime.Add(time.Duration(i)*time.Minute)))
	}
	events = append(events, clickEvent("network-a", "M", baseTime))
	_, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)

	latest, err := s.LatestEventTimes(ctx, domain.KindClick, "network-a", []string{"L", "M", "N"})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(4*time.Minute), latest["L"])
	assert.Equal(t, baseTime, latest["M"])
	_, ok := latest["N"]
	assert.False(t, ok)

	n, err := s.CountEvents(ctx, domain.KindClick, "network-a", "L", baseTime.Add(time.Minute), baseTime.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLatestEventTimes_ChunksLargeBatches(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, maxBatchParams+20)
	for i := 0; i < maxBatchParams+20; i++ {
		ids = append(ids, fmt.Sprintf("e-%04d", i))
	}
	_, err := s.InsertEvents(ctx, []domain.Event{
		clickEvent("network-a", ids[0], baseTime),
		clickEvent("network-a", ids[len(ids)-1], baseTime),
	})
	require.NoError(t, err)

	latest, err := s.LatestEventTimes(ctx, domain.KindClick, "network-a", ids)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}
