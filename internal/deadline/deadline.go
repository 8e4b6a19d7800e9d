// Package deadline races an operation against a time budget.
//
// Run hands the operation a child context that is cancelled when Run
// returns, but it never waits for the operation to exit. An operation that
// ignores its context keeps running after a timeout; it must release its own
// resources (sessions, files, connections) in a deferred cleanup.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("deadline exceeded")

// TimeoutError reports that a task did not settle within its budget.
type TimeoutError struct {
	Task   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q exceeded deadline of %s", e.Task, e.Budget)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout returns true if err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

type result[T any] struct {
	val T
	err error
}

// Run executes op and returns its result, or a *TimeoutError if op has not
// settled within budget. A budget <= 0 disables the deadline.
//
// If ctx is done before op settles, ctx.Err() is returned.
func Run[T any](ctx context.Context, name string, budget time.Duration, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- result[T]{val: v, err: err}
	}()

	var expired <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-expired:
		return zero, &TimeoutError{Task: name, Budget: budget}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
