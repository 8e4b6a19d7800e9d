// Package retry runs an operation with a bounded number of attempts and a
// fixed delay between them.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how a failing operation is retried.
//
// MaxRetries counts additional attempts beyond the first, so an operation is
// tried at most MaxRetries+1 times. IsRetryable classifies errors; nil treats
// every error as retryable.
type Policy struct {
	MaxRetries  int
	Delay       time.Duration
	IsRetryable func(error) bool
	Logger      *slog.Logger
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// policy, or ctx is done. It returns the number of attempts made and the last
// error.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) (int, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(maxRetries))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying task",
			slog.String("source", "retry"),
			slog.String("task", name),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", maxRetries+1),
			slog.Duration("delay", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(operation, b, notify)
	return attempts, err
}

// Never is an IsRetryable predicate that disables retries.
func Never(error) bool { return false }

// Except returns a predicate that treats every error as retryable except
// those matching one of targets.
func Except(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return false
			}
		}
		return true
	}
}
