package hierarchy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adingest/internal/domain"
	"github.com/roach88/adingest/internal/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "hierarchy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSyncer(st Store) (*Syncer, *syncBuffer) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(st, WithLogger(logger), WithUpdateConcurrency(2)), logs
}

func record(account, campaign, adgroup, ad string) domain.HierarchyRecord {
	return domain.HierarchyRecord{
		AccountID:    account,
		CampaignID:   campaign,
		CampaignName: "Campaign " + campaign,
		AdgroupID:    adgroup,
		AdgroupName:  "Adgroup " + adgroup,
		AdID:         ad,
		AdName:       "Ad " + ad,
	}
}

func TestSync_CreatesTreeParentFirst(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestSyncer(st)
	ctx := context.Background()

	res, err := s.Sync(ctx, []domain.HierarchyRecord{
		record("acct", "c1", "g1", "a1"),
		record("acct", "c1", "g1", "a2"),
		record("acct", "c1", "g2", "a3"),
		record("acct", "c2", "g3", "a4"),
	})
	require.NoError(t, err)

	assert.Equal(t, LevelCounts{Created: 2}, res.Levels[domain.LevelCampaign])
	assert.Equal(t, LevelCounts{Created: 3}, res.Levels[domain.LevelAdgroup])
	assert.Equal(t, LevelCounts{Created: 4}, res.Levels[domain.LevelAd])
	assert.Equal(t, 9, res.Written())

	campaigns, err := st.LookupMaster(ctx, domain.LevelCampaign, []string{"c1"})
	require.NoError(t, err)
	adgroups, err := st.LookupMaster(ctx, domain.LevelAdgroup, []string{"g1"})
	require.NoError(t, err)

	parent, err := st.MasterParent(ctx, domain.LevelAdgroup, "g1")
	require.NoError(t, err)
	assert.Equal(t, campaigns["c1"].ID, mustAtoi(t, parent))

	parent, err = st.MasterParent(ctx, domain.LevelAd, "a2")
	require.NoError(t, err)
	assert.Equal(t, adgroups["g1"].ID, mustAtoi(t, parent))
}

func TestSync_PartitionsUpdateUnchangedCreate(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestSyncer(st)
	ctx := context.Background()

	_, err := s.Sync(ctx, []domain.HierarchyRecord{record("acct", "c1", "g1", "a1")})
	require.NoError(t, err)

	renamed := record("acct", "c1", "g1", "a1")
	renamed.AdName = "Ad a1 v2"
	renamed.CampaignName = "  Campaign c1  "

	res, err := s.Sync(ctx, []domain.HierarchyRecord{renamed, record("acct", "c1", "g1", "a9")})
	require.NoError(t, err)
	assert.Equal(t, LevelCounts{Unchanged: 1}, res.Levels[domain.LevelCampaign])
	assert.Equal(t, LevelCounts{Unchanged: 1}, res.Levels[domain.LevelAdgroup])
	assert.Equal(t, LevelCounts{Updated: 1, Created: 1}, res.Levels[domain.LevelAd])

	ads, err := st.LookupMaster(ctx, domain.LevelAd, []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, "Ad a1 v2", ads["a1"].Name)
}

func TestSync_UnicodeNormalizedNamesAreUnchanged(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestSyncer(st)
	ctx := context.Background()

	composed := record("acct", "c1", "", "")
	composed.CampaignName = "Caf\u00e9"
	_, err := s.Sync(ctx, []domain.HierarchyRecord{composed})
	require.NoError(t, err)

	decomposed := composed
	decomposed.CampaignName = "Cafe\u0301"
	res, err := s.Sync(ctx, []domain.HierarchyRecord{decomposed})
	require.NoError(t, err)
	assert.Equal(t, LevelCounts{Unchanged: 1}, res.Levels[domain.LevelCampaign])
}

func TestSync_UnresolvedParentIsDropped(t *testing.T) {
	st := newSQLiteStore(t)
	s, logs := newTestSyncer(st)
	ctx := context.Background()

	// Campaign "cM" has no account, so it cannot be written and everything
	// below it is dropped. The other branch still completes.
	res, err := s.Sync(ctx, []domain.HierarchyRecord{
		record("", "cM", "gM", "M"),
		record("acct", "c1", "g1", "a1"),
	})
	require.NoError(t, err)

	assert.Equal(t, LevelCounts{Created: 1, Dropped: 1}, res.Levels[domain.LevelCampaign])
	assert.Equal(t, LevelCounts{Created: 1, Dropped: 1}, res.Levels[domain.LevelAdgroup])
	assert.Equal(t, LevelCounts{Created: 1, Dropped: 1}, res.Levels[domain.LevelAd])
	assert.Contains(t, logs.String(), "dropping row with unresolved parent")
	assert.Contains(t, logs.String(), "external_id=M")

	ads, err := st.LookupMaster(ctx, domain.LevelAd, []string{"M", "a1"})
	require.NoError(t, err)
	assert.Len(t, ads, 1)
	assert.Contains(t, ads, "a1")
}

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	Store
	batchErr    error
	rowFail     map[string]bool
	updateErr   error
	lookupErrAt domain.Level
}

func (f *faultyStore) LookupMaster(ctx context.Context, level domain.Level, ids []string) (map[string]domain.MasterRow, error) {
	if f.lookupErrAt == level {
		return nil, errors.New("connection lost")
	}
	return f.Store.LookupMaster(ctx, level, ids)
}

func (f *faultyStore) InsertMasterBatch(ctx context.Context, level domain.Level, rows []domain.NewMasterRow) (int, error) {
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	return f.Store.InsertMasterBatch(ctx, level, rows)
}

func (f *faultyStore) InsertMaster(ctx context.Context, level domain.Level, row domain.NewMasterRow) error {
	if f.rowFail[row.ExternalID] {
		return errors.New("value too long")
	}
	return f.Store.InsertMaster(ctx, level, row)
}

func (f *faultyStore) UpdateMasterName(ctx context.Context, level domain.Level, id int64, name string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.Store.UpdateMasterName(ctx, level, id, name)
}

func TestSync_BatchFailureFallsBackPerRow(t *testing.T) {
	st := newSQLiteStore(t)
	fs := &faultyStore{
		Store:    st,
		batchErr: errors.New("batch too large"),
		rowFail:  map[string]bool{"c2": true},
	}
	s, logs := newTestSyncer(fs)

	res, err := s.Sync(context.Background(), []domain.HierarchyRecord{
		record("acct", "c1", "g1", "a1"),
		record("acct", "c2", "g2", "a2"),
	})
	require.NoError(t, err)

	assert.Equal(t, LevelCounts{Created: 1, Failed: 1}, res.Levels[domain.LevelCampaign])
	// g2's parent c2 was never written.
	assert.Equal(t, LevelCounts{Created: 1, Dropped: 1}, res.Levels[domain.LevelAdgroup])
	assert.Equal(t, LevelCounts{Created: 1, Dropped: 1}, res.Levels[domain.LevelAd])
	assert.Contains(t, logs.String(), "falling back to per-row inserts")
}

func TestSync_UpdateFailuresAreCounted(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestSyncer(st)
	ctx := context.Background()
	_, err := s.Sync(ctx, []domain.HierarchyRecord{record("acct", "c1", "g1", "a1"), record("acct", "c2", "g2", "a2")})
	require.NoError(t, err)

	fs := &faultyStore{Store: st, updateErr: errors.New("deadlock")}
	s2, _ := newTestSyncer(fs)
	r1 := record("acct", "c1", "g1", "a1")
	r1.CampaignName = "renamed 1"
	r2 := record("acct", "c2", "g2", "a2")
	r2.CampaignName = "renamed 2"

	res, err := s2.Sync(ctx, []domain.HierarchyRecord{r1, r2})
	require.NoError(t, err)
	assert.Equal(t, LevelCounts{Failed: 2}, res.Levels[domain.LevelCampaign])
	assert.Equal(t, LevelCounts{Unchanged: 2}, res.Levels[domain.LevelAdgroup])
}

// slowUpdateStore tracks how many renames run at once and fails one id.
type slowUpdateStore struct {
	Store
	failID   int64
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *slowUpdateStore) UpdateMasterName(ctx context.Context, level domain.Level, id int64, name string) error {
	s.mu.Lock()
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	if id == s.failID {
		return errors.New("row locked")
	}
	return s.Store.UpdateMasterName(ctx, level, id, name)
}

func TestSync_UpdatesBoundedAndIndependent(t *testing.T) {
	st := newSQLiteStore(t)
	s, _ := newTestSyncer(st)
	ctx := context.Background()

	var records []domain.HierarchyRecord
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		records = append(records, record("acct", c, "g"+c, "a"+c))
	}
	_, err := s.Sync(ctx, records)
	require.NoError(t, err)

	existing, err := st.LookupMaster(ctx, domain.LevelCampaign, []string{"c3"})
	require.NoError(t, err)

	slow := &slowUpdateStore{Store: st, failID: existing["c3"].ID}
	s2, logs := newTestSyncer(slow)
	for i := range records {
		records[i].CampaignName += " v2"
	}
	res, err := s2.Sync(ctx, records)
	require.NoError(t, err)

	assert.Equal(t, LevelCounts{Updated: 5, Failed: 1}, res.Levels[domain.LevelCampaign])
	assert.LessOrEqual(t, slow.peak, 2)
	assert.Contains(t, logs.String(), "row locked")

	renamed, err := st.LookupMaster(ctx, domain.LevelCampaign, []string{"c1", "c3"})
	require.NoError(t, err)
	assert.Equal(t, "Campaign c1 v2", renamed["c1"].Name)
	assert.Equal(t, "Campaign c3", renamed["c3"].Name)
}

func TestSync_LookupFailureIsFatal(t *testing.T) {
	st := newSQLiteStore(t)
	fs := &faultyStore{Store: st, lookupErrAt: domain.LevelAdgroup}
	s, _ := newTestSyncer(fs)

	res, err := s.Sync(context.Background(), []domain.HierarchyRecord{record("acct", "c1", "g1", "a1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
	assert.Equal(t, 1, res.Levels[domain.LevelCampaign].Created)
	_, reachedAds := res.Levels[domain.LevelAd]
	assert.False(t, reachedAds)
}

func TestCollect_DeduplicatesLastWins(t *testing.T) {
	a := record("acct", "c1", "g1", "a1")
	b := record("acct", "c1", "g1", "a2")
	b.CampaignName = "Latest"

	items := collect(domain.LevelCampaign, []domain.HierarchyRecord{a, b})
	require.Len(t, items, 1)
	assert.Equal(t, "Latest", items[0].name)

	ads := collect(domain.LevelAd, []domain.HierarchyRecord{a, b, record("acct", "c1", "g1", "")})
	assert.Len(t, ads, 2)
}
