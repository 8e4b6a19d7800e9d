package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/config"
	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/hierarchy"
	"github.com/roach88/adingest/internal/reconcile"
	"github.com/roach88/adingest/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReconciler struct {
	observations []reconcile.Observation
	events       []domain.Event
	kind         domain.EventKind
	refresh      bool
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ string, obs []reconcile.Observation) (reconcile.Report, error) {
	f.observations = obs
	return reconcile.Report{Entities: len(obs), Events: 7}, nil
}

func (f *fakeReconciler) IngestEvents(_ context.Context, _ string, kind domain.EventKind, events []domain.Event, refresh bool) (reconcile.Report, error) {
	f.events = events
	f.kind = kind
	f.refresh = refresh
	return reconcile.Report{Entities: 1, Events: len(events)}, nil
}

type fakeSyncer struct {
	records []domain.HierarchyRecord
}

func (f *fakeSyncer) Sync(_ context.Context, records []domain.HierarchyRecord) (hierarchy.Result, error) {
	f.records = records
	return hierarchy.Result{Levels: map[domain.Level]hierarchy.LevelCounts{
		domain.LevelCampaign: {Created: 1},
		domain.LevelAdgroup:  {Updated: 2, Unchanged: 5},
	}}, nil
}

func serveJSON(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCounters_EndToEnd(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var total atomic.Int64
	total.Store(50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"data":{"rows":[{"id":"ad-1","clicks":%d}]}}`, total.Load())
	}))
	t.Cleanup(srv.Close)

	engine := reconcile.New(st, reconcile.WithLogger(quietLogger()))
	src, err := New(config.SourceConfig{
		Name:   "partner",
		Kind:   config.KindCounters,
		URL:    srv.URL,
		Source: "partner",
		Items:  "data.rows",
		Fields: map[string]string{"entity_id": "id", "total": "clicks"},
	}, Deps{Reconciler: engine, Logger: quietLogger()})
	require.NoError(t, err)

	out, err := src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, out.Count)

	total.Store(73)
	out, err = src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, out.Count)

	events, err := st.ListEvents(context.Background(), domain.KindClick, "partner", "ad-1")
	require.NoError(t, err)
	assert.Len(t, events, 73)
}

func TestCounters_SkipsIncompleteRows(t *testing.T) {
	srv := serveJSON(t, `[{"entity_id":"a","total":3},{"entity_id":"","total":4},{"entity_id":"b"}]`)
	rec := &fakeReconciler{}
	src, err := New(config.SourceConfig{Name: "s", Kind: config.KindCounters, URL: srv.URL, Source: "s"},
		Deps{Reconciler: rec, Logger: quietLogger()})
	require.NoError(t, err)

	out, err := src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, out.Count)
	require.Len(t, rec.observations, 1)
	assert.Equal(t, reconcile.Observation{EntityID: "a", Total: 3}, rec.observations[0])
}

func TestActions_ParsesTimestampsAndReward(t *testing.T) {
	srv := serveJSON(t, `{"items":[
		{"entity_id":"x","occurred_at":"2026-03-14T09:00:00+09:00","reward":120,"url":"https://lp.example/?ref=abc"},
		{"entity_id":"y","occurred_at":1773446400},
		{"entity_id":"z","occurred_at":"yesterday"}
	]}`)
	rec := &fakeReconciler{}
	src, err := New(config.SourceConfig{
		Name:             "conv",
		Kind:             config.KindActions,
		URL:              srv.URL,
		Source:           "conv",
		Items:            "items",
		RefreshSnapshots: true,
		Fields:           map[string]string{"referrer_url": "url"},
	}, Deps{Reconciler: rec, Logger: quietLogger()})
	require.NoError(t, err)

	out, err := src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, domain.KindAction, rec.kind)
	assert.True(t, rec.refresh)

	require.Len(t, rec.events, 2)
	first := rec.events[0]
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), first.OccurredAt)
	require.NotNil(t, first.Reward)
	assert.Equal(t, int64(120), *first.Reward)
	assert.Equal(t, "https://lp.example/?ref=abc", first.ReferrerURL)
	assert.Equal(t, time.Unix(1773446400, 0).UTC(), rec.events[1].OccurredAt)
	assert.Nil(t, rec.events[1].Reward)
}

func TestClicks_UsesClickKind(t *testing.T) {
	srv := serveJSON(t, `[{"entity_id":"x","occurred_at":1773446400,"reward":5}]`)
	rec := &fakeReconciler{}
	src, err := New(config.SourceConfig{Name: "c", Kind: config.KindClicks, URL: srv.URL, Source: "c"},
		Deps{Reconciler: rec, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.KindClick, rec.kind)
	require.Len(t, rec.events, 1)
	assert.Nil(t, rec.events[0].Reward)
}

func TestHierarchy_CountsWrittenRows(t *testing.T) {
	srv := serveJSON(t, `[{"account_id":"acct","campaign_id":"c1","campaign_name":"Spring",
		"adgroup_id":"g1","adgroup_name":"G","ad_id":"a1","ad_name":"A"}]`)
	sync := &fakeSyncer{}
	src, err := New(config.SourceConfig{Name: "h", Kind: config.KindHierarchy, URL: srv.URL},
		Deps{Syncer: sync, Logger: quietLogger()})
	require.NoError(t, err)

	out, err := src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	require.Len(t, sync.records, 1)
	assert.Equal(t, domain.HierarchyRecord{
		AccountID: "acct", CampaignID: "c1", CampaignName: "Spring",
		AdgroupID: "g1", AdgroupName: "G", AdID: "a1", AdName: "A",
	}, sync.records[0])
}

func TestFetch_SendsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(srv.Close)

	src, err := New(config.SourceConfig{
		Name: "s", Kind: config.KindCounters, URL: srv.URL,
		Headers: map[string]string{"Authorization": "Bearer t0k"},
	}, Deps{Reconciler: &fakeReconciler{}, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = src.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer t0k", gotAuth)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		items     string
		retryable bool
	}{
		{"not found", http.StatusNotFound, `{}`, "", false},
		{"unavailable", http.StatusServiceUnavailable, `{}`, "", true},
		{"throttled", http.StatusTooManyRequests, `{}`, "", true},
		{"not json", http.StatusOK, `<html>`, "", false},
		{"items not array", http.StatusOK, `{"data":{"rows":5}}`, "data.rows", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			src, err := New(config.SourceConfig{Name: "s", Kind: config.KindCounters, URL: srv.URL, Items: tt.items},
				Deps{Reconciler: &fakeReconciler{}, Logger: quietLogger()})
			require.NoError(t, err)

			_, err = src.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable_TransportErrors(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", &StatusError{Code: 400})))
}

func TestFetch_RateLimitHonoursContext(t *testing.T) {
	srv := serveJSON(t, `[]`)
	src, err := New(config.SourceConfig{Name: "s", Kind: config.KindCounters, URL: srv.URL, RPS: 0.01, Burst: 1},
		Deps{Reconciler: &fakeReconciler{}, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = src.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Run(ctx)
	assert.Error(t, err)
}

func TestBuildTasks(t *testing.T) {
	deps := Deps{Reconciler: &fakeReconciler{}, Logger: quietLogger()}

	tasks, err := BuildTasks([]config.SourceConfig{
		{Name: "a", Family: "hourly", Kind: config.KindCounters, URL: "http://a"},
		{Name: "b", Family: "hourly", Kind: config.KindClicks, URL: "http://b"},
		{Name: "c", Family: "nightly", Kind: config.KindActions, URL: "http://c"},
	}, deps)
	require.NoError(t, err)
	require.Len(t, tasks["hourly"], 2)
	assert.Equal(t, "b", tasks["hourly"][1].Name())
	require.Len(t, tasks["nightly"], 1)

	_, err = BuildTasks([]config.SourceConfig{
		{Name: "h", Family: "f", Kind: config.KindHierarchy, URL: "http://h"},
		{Name: "n", Family: "f", Kind: config.KindCounters},
	}, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a hierarchy syncer")
	assert.Contains(t, err.Error(), "url is required")
}
