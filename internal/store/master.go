package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/adingest/internal/domain"
)

// masterTable maps a level to its table and parent column.
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

// LookupMaster batch-fetches existing rows at level by external id.
// The result is keyed by external id; unknown ids are absent.
func (s *Store) LookupMaster(ctx context.Context, level domain.Level, externalIDs []string) (map[string]domain.MasterRow, error) {
	table, _, err := masterTable(level)
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.MasterRow, len(externalIDs))
	for _, ids := range chunk(externalIDs, maxBatchParams) {
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, external_id, name FROM `+table+`
			WHERE external_id IN (`+placeholders(len(ids))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", level, err)
		}
		for rows.Next() {
			var r domain.MasterRow
			if err := rows.Scan(&r.ID, &r.ExternalID, &r.Name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s: %w", level, err)
			}
			out[r.ExternalID] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", level, err)
		}
	}
	return out, nil
}

// UpdateMasterName renames the row with surrogate id at level.
func (s *Store) UpdateMasterName(ctx context.Context, level domain.Level, id int64, name string) error {
	table, _, err := masterTable(level)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE `+table+` SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", level, id, err)
	}
	return nil
}

// InsertMasterBatch inserts rows at level in one transaction, skipping rows
// whose external id already exists. Returns the number of rows inserted.
// Any other failure rolls back the whole batch.
func (s *Store) InsertMasterBatch(ctx context.Context, level domain.Level, rows []domain.NewMasterRow) (int, error) {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert %s batch: begin tx: %w", level, err)
	}
	defer tx.Rollback() // No-op if committed

	st, err := tx.PrepareContext(ctx, `
		INSERT INTO `+table+` (external_id, `+parentCol+`, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("insert %s batch: prepare: %w", level, err)
	}
	defer st.Close()

	now := time.Now().UnixNano()
	inserted := 0
	for _, r := range rows {
		res, err := st.ExecContext(ctx, r.ExternalID, parentValue(level, r), r.Name, now)
		if err != nil {
			return 0, fmt.Errorf("insert %s batch: %w", level, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert %s batch: rows affected: %w", level, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert %s batch: commit: %w", level, err)
	}
	return inserted, nil
}

// InsertMaster inserts one row at level. Returns an error wrapping
// domain.ErrConflict if the external id already exists.
func (s *Store) InsertMaster(ctx context.Context, level domain.Level, row domain.NewMasterRow) error {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (external_id, `+parentCol+`, name, updated_at)
		VALUES (?, ?, ?, ?)
	`, row.ExternalID, parentValue(level, row), row.Name, time.Now().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s %s: %w", level, row.ExternalID, domain.ErrConflict)
		}
		return fmt.Errorf("insert %s %s: %w", level, row.ExternalID, err)
	}
	return nil
}

// MasterParent returns the parent reference stored for a row: the account id
// for campaigns, the parent surrogate id (as decimal text) otherwise.
func (s *Store) MasterParent(ctx context.Context, level domain.Level, externalID string) (string, error) {
	table, parentCol, err := masterTable(level)
	if err != nil {
		return "", err
	}
	var parent string
	err = s.db.QueryRowContext(ctx, `
		SELECT CAST(`+parentCol+` AS TEXT) FROM `+table+` WHERE external_id = ?
	`, externalID).Scan(&parent)
	if err != nil {
		return "", fmt.Errorf("read %s parent: %w", level, err)
	}
	return parent, nil
}
