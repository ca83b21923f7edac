package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquirePicksHealthiestKey(t *testing.T) {
	p := New(zap.NewNop(), []string{"a", "b", "c"})
	key, err := p.Acquire(time.Second)
	require.NoError(t, err)
	require.Contains(t, []string{"a", "b", "c"}, key)
}

func TestAcquireForIsDeterministic(t *testing.T) {
	p := New(zap.NewNop(), []string{"a", "b", "c", "d", "e"})
	key1, err := p.AcquireFor("doc-123")
	require.NoError(t, err)
	key2, err := p.AcquireFor("doc-123")
	require.NoError(t, err)
	require.Equal(t, key1, key2, "same docID must always map to the same key")
}

func TestAcquireForFailsWhenOnlyKeyDisabled(t *testing.T) {
	p := New(zap.NewNop(), []string{"solo"}, WithFailurePolicy(1, time.Minute))
	p.ReportFailure("solo", ErrOther)

	_, err := p.AcquireFor("doc-x")
	require.Error(t, err, "single disabled key has no healthy fallback")
}

func TestAcquireForFallsThroughWhenPrimaryBucketDepleted(t *testing.T) {
	p := New(zap.NewNop(), []string{"a", "b"})
	key1, err := p.AcquireFor("doc-y")
	require.NoError(t, err)

	primary := p.find(key1)
	require.NotNil(t, primary)
	primary.bucket.MarkDepleted()

	key2, err := p.AcquireFor("doc-y")
	require.NoError(t, err)
	require.NotEqual(t, key1, key2, "depleted-but-not-disabled primary key must not be handed out undebited")
}

func TestReportFailureDisablesAfterThreshold(t *testing.T) {
	p := New(zap.NewNop(), []string{"only"}, WithFailurePolicy(2, time.Hour))

	p.ReportFailure("only", ErrOther)
	_, err := p.Acquire(10 * time.Millisecond)
	require.NoError(t, err, "still healthy after first failure")

	p.ReportFailure("only", ErrOther)
	_, err = p.Acquire(10 * time.Millisecond)
	require.Error(t, err, "disabled after reaching the consecutive-failure threshold")
}

func TestReportSuccessResetsConsecutiveFailures(t *testing.T) {
	p := New(zap.NewNop(), []string{"k"}, WithFailurePolicy(2, time.Hour))
	p.ReportFailure("k", ErrOther)
	p.ReportSuccess("k")
	p.ReportFailure("k", ErrOther)

	_, err := p.Acquire(10 * time.Millisecond)
	require.NoError(t, err, "success in between should have reset the failure streak")
}

func TestReportFailureRateLimitDepletesBucket(t *testing.T) {
	p := New(zap.NewNop(), []string{"k"}, WithFailurePolicy(99, time.Hour))
	_, err := p.Acquire(10 * time.Millisecond)
	require.NoError(t, err)

	p.ReportFailure("k", ErrRateLimit)

	_, err = p.Acquire(10 * time.Millisecond)
	require.Error(t, err, "rate-limited key's bucket should read as empty")
}

func TestUpdateKeysNeverRemoves(t *testing.T) {
	p := New(zap.NewNop(), []string{"a"})
	p.UpdateKeys([]string{"a", "b"})
	require.Len(t, p.keys, 2)

	p.UpdateKeys([]string{"b"})
	require.Len(t, p.keys, 2, "UpdateKeys must never remove existing keys")
}

func TestAcquireFailsWhenPoolEmpty(t *testing.T) {
	p := New(zap.NewNop(), nil)
	_, err := p.Acquire(10 * time.Millisecond)
	require.Error(t, err)
}
