package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsCapacity(t *testing.T) {
	b := New(5, 5)
	for i := 0; i < 5; i++ {
		require.True(t, b.TryAcquire(1))
	}
	require.False(t, b.TryAcquire(1), "bucket should be empty after draining capacity")
}

func TestTryAcquireNeverGoesNegative(t *testing.T) {
	b := New(2, 1)
	require.True(t, b.TryAcquire(2))
	require.False(t, b.TryAcquire(1))
	require.GreaterOrEqual(t, b.Available(), 0.0)
}

func TestRefillOverTime(t *testing.T) {
	b := New(1, 1000) // 1000 tokens/sec refill, tiny wait needed
	require.True(t, b.TryAcquire(1))
	require.False(t, b.TryAcquire(1))
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.TryAcquire(1))
}

func TestAcquireBlocksUntilDeadline(t *testing.T) {
	b := New(1, 2) // refills 1 token every 500ms
	require.True(t, b.TryAcquire(1))
	start := time.Now()
	ok := b.Acquire(1, 2*time.Second)
	require.True(t, ok)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireTimesOut(t *testing.T) {
	b := New(1, 0.001)
	require.True(t, b.TryAcquire(1))
	ok := b.Acquire(1, 20*time.Millisecond)
	require.False(t, ok)
}

func TestMarkDepletedZeroesAvailable(t *testing.T) {
	b := New(10, 1)
	b.MarkDepleted()
	require.Equal(t, 0.0, b.Available())
}

func TestResetRefillsToCapacity(t *testing.T) {
	b := New(10, 1)
	b.MarkDepleted()
	b.Reset()
	require.Equal(t, 10.0, b.Available())
}

func TestConcurrentAcquireNeverExceedsCapacity(t *testing.T) {
	b := New(20, 0) // no refill: exercises only the decrement path
	results := make(chan bool, 40)
	for i := 0; i < 40; i++ {
		go func() { results <- b.TryAcquire(1) }()
	}
	granted := 0
	for i := 0; i < 40; i++ {
		if <-results {
			granted++
		}
	}
	require.Equal(t, 20, granted)
	require.Equal(t, 0.0, b.Available())
}
