package hierarchy

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAtoi(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
