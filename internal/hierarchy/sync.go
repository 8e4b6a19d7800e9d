// Package hierarchy synchronizes the campaign → adgroup → ad master tables
// from flat report rows.
//
// Levels are written root first. A level's external-id → surrogate-id map
// is re-read after its writes and becomes the parent map for the next level,
// so a child is never written before its parent exists. Children whose parent
// cannot be resolved are dropped with a warning.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/adingest/internal/domain"
)

// DefaultUpdateConcurrency bounds concurrent name updates per level.
const DefaultUpdateConcurrency = 8

// Store is the master-data storage the syncer needs.
type Store interface {
	LookupMaster(ctx context.Context, level domain.Level, externalIDs []string) (map[string]domain.MasterRow, error)
	UpdateMasterName(ctx context.Context, level domain.Level, id int64, name string) error
	// InsertMasterBatch inserts rows, skipping existing external ids, and
	// returns how many were inserted.
	InsertMasterBatch(ctx context.Context, level domain.Level, rows []domain.NewMasterRow) (int, error)
	// InsertMaster must return an error wrapping domain.ErrConflict for an
	// existing external id.
	InsertMaster(ctx context.Context, level domain.Level, row domain.NewMasterRow) error
}

// LevelCounts tallies what happened to one level's rows.
type LevelCounts struct {
	Updated   int `json:"updated"`
	Created   int `json:"created"`
	Unchanged int `json:"unchanged"`
	Dropped   int `json:"dropped"`
	Failed    int `json:"failed"`
}

// Result holds per-level counts of one sync.
type Result struct {
	Levels map[domain.Level]LevelCounts
}

// Written returns the number of rows created or updated across levels.
func (r Result) Written() int {
	n := 0
	for _, c := range r.Levels {
		n += c.Created + c.Updated
	}
	return n
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithUpdateConcurrency bounds concurrent updates per level.
func WithUpdateConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) { s.logger = logger }
}

// Syncer applies hierarchy records to a Store.
type Syncer struct {
	store       Store
	concurrency int
	logger      *slog.Logger
}

// New creates a Syncer.
func New(store Store, opts ...Option) *Syncer {
	s := &Syncer{
		store:       store,
		concurrency: DefaultUpdateConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// item is one deduplicated row at a level.
type item struct {
	externalID string
	parentKey  string
	name       string
}

// Sync writes records level by level. Per-row failures are counted and
// logged; only a failed lookup aborts the sync, returning the counts so far.
func (s *Syncer) Sync(ctx context.Context, records []domain.HierarchyRecord) (Result, error) {
	res := Result{Levels: make(map[domain.Level]LevelCounts, len(domain.Levels))}

	var parents map[string]int64
	for _, level := range domain.Levels {
		items := collect(level, records)
		counts, ids, err := s.syncLevel(ctx, level, items, parents)
		res.Levels[level] = counts
		if err != nil {
			return res, err
		}
		parents = ids
	}

	s.logger.Info("hierarchy sync complete",
		slog.String("source", "hierarchy"),
		slog.Any("campaign", res.Levels[domain.LevelCampaign]),
		slog.Any("adgroup", res.Levels[domain.LevelAdgroup]),
		slog.Any("ad", res.Levels[domain.LevelAd]))
	return res, nil
}

// collect extracts one level's rows from records, deduplicated by external
// id in first-seen order. The last record for an id wins.
func collect(level domain.Level, records []domain.HierarchyRecord) []item {
	index := make(map[string]int)
	var items []item
	for _, r := range records {
		var it item
		switch level {
		case domain.LevelCampaign:
			it = item{externalID: r.CampaignID, parentKey: r.AccountID, name: r.CampaignName}
		case domain.LevelAdgroup:
			it = item{externalID: r.AdgroupID, parentKey: r.CampaignID, name: r.AdgroupName}
		case domain.LevelAd:
			it = item{externalID: r.AdID, parentKey: r.AdgroupID, name: r.AdName}
		}
		if it.externalID == "" {
			continue
		}
		it.name = normalizeName(it.name)
		if i, ok := index[it.externalID]; ok {
			items[i] = it
			continue
		}
		index[it.externalID] = len(items)
		items = append(items, it)
	}
	return items
}

// normalizeName trims and NFC-normalizes so visually equal names compare
// equal.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (s *Syncer) syncLevel(ctx context.Context, level domain.Level, items []item, parents map[string]int64) (LevelCounts, map[string]int64, error) {
	var counts LevelCounts
	logger := s.logger.With(slog.String("source", "hierarchy"), slog.String("level", level.String()))

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.externalID
	}

	existing, err := s.store.LookupMaster(ctx, level, ids)
	if err != nil {
		return counts, nil, fmt.Errorf("lookup %s rows: %w", level, err)
	}

	type update struct {
		id   int64
		name string
	}
	var (
		updates []update
		creates []domain.NewMasterRow
	)
	for _, it := range items {
		row := domain.NewMasterRow{ExternalID: it.externalID, Name: it.name}
		if level == domain.LevelCampaign {
			if it.parentKey == "" {
				counts.Dropped++
				logger.Warn("dropping row with unresolved parent",
					slog.String("external_id", it.externalID))
				continue
			}
			row.ParentRef = it.parentKey
		} else {
			parentID, ok := parents[it.parentKey]
			if !ok {
				counts.Dropped++
				logger.Warn("dropping row with unresolved parent",
					slog.String("external_id", it.externalID),
					slog.String("parent", it.parentKey))
				continue
			}
			row.ParentID = parentID
		}

		cur, ok := existing[it.externalID]
		switch {
		case !ok:
			creates = append(creates, row)
		case normalizeName(cur.Name) != it.name:
			updates = append(updates, update{id: cur.ID, name: it.name})
		default:
			counts.Unchanged++
		}
	}

	// Update failures are per row; they never stop the group.
	var updated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, u := range updates {
		g.Go(func() error {
			if err := s.store.UpdateMasterName(ctx, level, u.id, u.name); err != nil {
				failed.Add(1)
				logger.Error("update failed",
					slog.Int64("id", u.id),
					slog.String("error", err.Error()))
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, nil, fmt.Errorf("update %s rows: %w", level, err)
	}
	counts.Updated = int(updated.Load())
	counts.Failed += int(failed.Load())

	created, skipped, rowFailures := s.create(ctx, level, creates, logger)
	counts.Created = created
	counts.Unchanged += skipped
	counts.Failed += rowFailures

	resolved, err := s.store.LookupMaster(ctx, level, ids)
	if err != nil {
		return counts, nil, fmt.Errorf("resolve %s ids: %w", level, err)
	}
	idMap := make(map[string]int64, len(resolved))
	for ext, r := range resolved {
		idMap[ext] = r.ID
	}
	return counts, idMap, nil
}

// create inserts rows as one duplicate-skipping batch, falling back to
// per-row inserts if the batch fails. Returns created, skipped and failed
// counts.
func (s *Syncer) create(ctx context.Context, level domain.Level, rows []domain.NewMasterRow, logger *slog.Logger) (int, int, int) {
	if len(rows) == 0 {
		return 0, 0, 0
	}

	n, err := s.store.InsertMasterBatch(ctx, level, rows)
	if err == nil {
		return n, len(rows) - n, 0
	}
	logger.Warn("batch insert failed, falling back to per-row inserts",
		slog.Int("rows", len(rows)),
		slog.String("error", err.Error()))

	var created, skipped, failed int
	for _, row := range rows {
		err := s.store.InsertMaster(ctx, level, row)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrConflict):
			skipped++
		default:
			failed++
			logger.Error("row insert failed",
				slog.String("external_id", row.ExternalID),
				slog.String("error", err.Error()))
		}
	}
	return created, skipped, failed
}
