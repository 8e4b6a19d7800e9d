package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/adingest/internal/domain"
)

// FindReferrer looks up a referrer link by value.
// Returns found=false (and no error) if it does not exist.
func (s *Store) FindReferrer(ctx context.Context, value string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM referrer_links WHERE value = ?
	`, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find referrer: %w", err)
	}
	return id, true, nil
}

// CreateReferrer inserts a referrer link and returns its id.
// Returns an error wrapping domain.ErrConflict if the value already exists.
func (s *Store) CreateReferrer(ctx context.Context, value string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO referrer_links (value, created_at) VALUES (?, ?)
	`, value, time.Now().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create referrer %q: %w", value, domain.ErrConflict)
		}
		return 0, fmt.Errorf("create referrer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create referrer: last insert id: %w", err)
	}
	return id, nil
}

// CountReferrers returns the number of rows with the given value (0 or 1).
// Used by tests and consistency checks.
func (s *Store) CountReferrers(ctx context.Context, value string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referrer_links WHERE value = ?
	`, value).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrers: %w", err)
	}
	return n, nil
}
