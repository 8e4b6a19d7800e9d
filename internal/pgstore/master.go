package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/adingest/internal/domain"
)

func masterTable(level domain.Level) (table, parentCol string, err error) {
	switch level {
	case domain.LevelCampaign:
		return "campaigns", "account_id", nil
	case domain.LevelAdgroup:
		return "adgroups", "campaign_id", nil
	case domain.LevelAd:
		return "ads", "adgroup_id", nil
	default:
		return "", "", fmt.Errorf("unknown hierarchy level %d", level)
	}
}

func parentValue(level domain.Level, row domain.NewMasterRow) any {
	if level == domain.LevelCampaign {
		return row.ParentRef
	}
	return row.ParentID
}

// LookupMaster fetches existing rows at level keyed by external id.
func (s *Store) LookupMaster(ctx context.Context, level domain.Level, externalIDs []string) (map[string]domain.MasterRow, error) {
	table, _, err := masterTable(level)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.MasterRow, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, external_id, name FROM `+table+` WHERE external_id = ANY($1)
	`, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", level, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.MasterRow])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", level, err)
	}
	for _, r := range found {
		out[r.ExternalID] = r
	}
	return out, nil
}

// UpdateMasterName renames the row with surrogate id at level.
func (s *Store) UpdateMasterName(ctx context.Context, level domain.Level, id int64, name string) error {
	table, _, err := masterTable(level)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE `+table+` SET name = $1, updated_at = $2 WHERE id = $3
	`, name, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", level, id, err)
	}
	return nil
}

// InsertMasterBatch inserts rows at level in one transaction, skipping
// existing external ids. Any other failure rolls back the batch.
func (s *Store) InsertMasterBatch(ctx context.Context, level domain.Level, rows []domain.NewMasterRow) (int, error) {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ` + table + ` (external_id, ` + parentCol + `, name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO NOTHING`
	now := time.Now().UnixNano()
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, r.ExternalID, parentValue(level, r), r.Name, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert %s batch: begin tx: %w", level, err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("insert %s batch: %w", level, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("insert %s batch: close: %w", level, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("insert %s batch: commit: %w", level, err)
	}
	return inserted, nil
}

// InsertMaster inserts one row at level, wrapping domain.ErrConflict when
// the external id already exists.
func (s *Store) InsertMaster(ctx context.Context, level domain.Level, row domain.NewMasterRow) error {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+table+` (external_id, `+parentCol+`, name, updated_at)
		VALUES ($1, $2, $3, $4)
	`, row.ExternalID, parentValue(level, row), row.Name, time.Now().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s %s: %w", level, row.ExternalID, domain.ErrConflict)
		}
		return fmt.Errorf("insert %s %s: %w", level, row.ExternalID, err)
	}
	return nil
}

// MasterParent returns the stored parent reference as text.
func (s *Store) MasterParent(ctx context.Context, level domain.Level, externalID string) (string, error) {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return "", err
	}
	var parent string
	err = s.pool.QueryRow(ctx, `
		SELECT `+parentCol+`::TEXT FROM `+table+` WHERE external_id = $1
	`, externalID).Scan(&parent)
	if err != nil {
		return "", fmt.Errorf("read %s parent: %w", level, err)
	}
	return parent, nil
}
