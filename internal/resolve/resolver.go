// Package resolve turns attribution URLs into referrer link ids, creating
// the link row on first sight.
//
// Resolution is best-effort: storage failures degrade to an unresolved
// result instead of an error, and a lost creation race is recovered by
// re-reading the winner's row.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/roach88/adingest/internal/domain"
)

// DefaultParam is the query parameter carrying the attribution identifier.
const DefaultParam = "ref"

// Store is the storage the resolver needs.
type Store interface {
	FindReferrer(ctx context.Context, value string) (id int64, found bool, err error)
	// CreateReferrer must return an error wrapping domain.ErrConflict when
	// value already exists.
	CreateReferrer(ctx context.Context, value string) (int64, error)
}

// Resolution is the outcome of resolving one URL. ID is nil when the URL
// carried no identifier or resolution failed.
type Resolution struct {
	ID  *int64
	URL string
}

// Resolver resolves or creates referrer links.
//
// Thread-safety: safe for concurrent use if the Store is.
type Resolver struct {
	store  Store
	param  string
	logger *slog.Logger
}

// New creates a resolver reading identifiers from param ("" means
// DefaultParam).
func New(store Store, param string, logger *slog.Logger) *Resolver {
	if param == "" {
		param = DefaultParam
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, param: param, logger: logger}
}

// Identifier extracts the attribution value from rawURL. ok is false for an
// empty or malformed URL or a missing/empty parameter.
func (r *Resolver) Identifier(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	v := u.Query().Get(r.param)
	return v, v != ""
}

// Resolve returns the referrer id for rawURL. It never fails: storage errors
// are logged and yield an unresolved result.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Resolution {
	unresolved := Resolution{URL: rawURL}

	value, ok := r.Identifier(rawURL)
	if !ok {
		return unresolved
	}

	id, err := r.findOrCreate(ctx, value)
	if err != nil {
		r.logger.Warn("referrer resolution failed",
			slog.String("source", "resolver"),
			slog.String("value", value),
			slog.String("error", err.Error()))
		return unresolved
	}
	return Resolution{ID: &id, URL: rawURL}
}

func (r *Resolver) findOrCreate(ctx context.Context, value string) (int64, error) {
	id, found, err := r.store.FindReferrer(ctx, value)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	id, err = r.store.CreateReferrer(ctx, value)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return 0, err
	}

	// A concurrent resolver created the row first.
	id, found, err = r.store.FindReferrer(ctx, value)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("referrer vanished after conflict")
	}
	r.logger.Debug("recovered referrer creation race",
		slog.String("source", "resolver"),
		slog.String("value", value))
	return id, nil
}
