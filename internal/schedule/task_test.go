package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountFunc(t *testing.T) {
	task := CountFunc("counter", func(context.Context) (int, error) { return 12, nil })
	assert.Equal(t, "counter", task.Name())

	out, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, out.Count)
}

func TestListFunc_LengthBecomesCount(t *testing.T) {
	type row struct{ ID string }
	task := ListFunc("lister", func(context.Context) ([]row, error) {
		return []row{{"a"}, {"b"}}, nil
	})

	out, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
}

func TestAdapters_PropagateErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := CountFunc("c", func(context.Context) (int, error) { return 5, boom }).Run(context.Background())
	assert.ErrorIs(t, err, boom)

	out, err := ListFunc("l", func(context.Context) ([]int, error) { return []int{1}, boom }).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, out.Count)
}

func TestTaskError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &TaskError{Task: "network-a", Attempts: 3, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "task network-a failed after 3 attempts: dial tcp: timeout", err.Error())

	single := &TaskError{Task: "network-a", Attempts: 1, Err: cause}
	assert.Equal(t, "task network-a failed: dial tcp: timeout", single.Error())
}
