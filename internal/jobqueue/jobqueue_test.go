package jobqueue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateCapsAtErrorMessageMaxLen(t *testing.T) {
	short := "boom"
	require.Equal(t, short, truncate(short))

	long := strings.Repeat("x", errorMessageMaxLen+500)
	require.Len(t, truncate(long), errorMessageMaxLen)
}

func TestRandHexProducesDistinctIdentifiers(t *testing.T) {
	a := randHex(4)
	b := randHex(4)
	require.Len(t, a, 8)
	require.Len(t, b, 8)
	require.NotEqual(t, a, b, "worker identifiers should not collide across calls in practice")
}

func TestDefaultOptionsMatchesSpecDefaults(t *testing.T) {
	opts := DefaultOptions()
	require.Equal(t, 5, opts.BatchSize)
}
