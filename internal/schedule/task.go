package schedule

import (
	"context"

	"github.com/roach88/adingest/internal/domain"
)

// Task is one unit of collection work. Implementations must be stateless
// between runs and must release their own resources before returning.
type Task interface {
	Name() string
	Run(ctx context.Context) (domain.Outcome, error)
}

type funcTask struct {
	name string
	run  func(context.Context) (domain.Outcome, error)
}

func (t funcTask) Name() string { return t.name }

func (t funcTask) Run(ctx context.Context) (domain.Outcome, error) { return t.run(ctx) }

// CountFunc adapts an operation that reports a record count.
func CountFunc(name string, fn func(context.Context) (int, error)) Task {
	return funcTask{name: name, run: func(ctx context.Context) (domain.Outcome, error) {
		n, err := fn(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Outcome{Count: n}, nil
	}}
}

// ListFunc adapts an operation that returns the records it collected.
// The list length becomes the count.
func ListFunc[T any](name string, fn func(context.Context) ([]T, error)) Task {
	return funcTask{name: name, run: func(ctx context.Context) (domain.Outcome, error) {
		items, err := fn(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Outcome{Count: len(items)}, nil
	}}
}
