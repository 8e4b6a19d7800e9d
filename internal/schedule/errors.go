package schedule

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned by Family.Trigger when the family already has
// an active run. No tasks are dispatched.
var ErrRunInProgress = errors.New("run already in progress")

// ErrDuplicateTask is returned by Family.Register for a repeated task name.
var ErrDuplicateTask = errors.New("duplicate task name")

// TaskError reports a task that failed after all its attempts.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("task %s failed after %d attempts: %v", e.Task, e.Attempts, e.Err)
	}
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// IsRunInProgress returns true if err is an overlap skip.
func IsRunInProgress(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}
