package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/provider"
)

type fakeClient struct {
	name provider.Name

	mu    sync.Mutex
	calls int
	err   error
	text  string
}

func (f *fakeClient) Name() provider.Name   { return f.name }
func (f *fakeClient) DefaultModel() string  { return "fake-model" }
func (f *fakeClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newState(name provider.Name, rpm int, client provider.Client) *ProviderState {
	return &ProviderState{Name: name, Client: client, APIKey: "k", Model: "m", RPM: rpm}
}

func TestGenerateReturnsTextOnSuccess(t *testing.T) {
	fc := &fakeClient{name: "A", text: "answer"}
	r := New(zap.NewNop(), []*ProviderState{newState("A", 10, fc)})
	defer r.Stop()

	text, err := r.Generate(context.Background(), "prompt", "")
	require.NoError(t, err)
	require.Equal(t, "answer", text)
}

func TestGenerateFailsOverToSecondProvider(t *testing.T) {
	failing := &fakeClient{name: "A", err: &provider.Error{Provider: "A", StatusCode: 500, Retryable: true}}
	healthy := &fakeClient{name: "B", text: "from B"}
	r := New(zap.NewNop(), []*ProviderState{
		newState("A", 5, failing),
		newState("B", 5, healthy),
	})
	defer r.Stop()

	text, err := r.Generate(context.Background(), "prompt", "")
	require.NoError(t, err)
	require.Equal(t, "from B", text)
}

func TestGenerateRaisesRouterFailureWhenAllProvidersFail(t *testing.T) {
	failing := &fakeClient{name: "A", err: &provider.Error{Provider: "A", StatusCode: 401}}
	r := New(zap.NewNop(), []*ProviderState{newState("A", 5, failing)})
	defer r.Stop()

	_, err := r.Generate(context.Background(), "prompt", "")
	require.Error(t, err)
	var rf *RouterFailure
	require.ErrorAs(t, err, &rf)
	require.Contains(t, rf.AttemptedProviders, provider.Name("A"))
}

func TestGenerateWithNoProvidersFailsImmediately(t *testing.T) {
	r := New(zap.NewNop(), nil)
	defer r.Stop()

	_, err := r.Generate(context.Background(), "prompt", "")
	require.Error(t, err)
}

func TestRateLimitedProviderExhaustsMinuteCounter(t *testing.T) {
	failing := &fakeClient{name: "A", err: &provider.Error{Provider: "A", StatusCode: 429, Retryable: true, RateLimited: true}}
	healthy := &fakeClient{name: "B", text: "from B"}
	stateA := newState("A", 3, failing)
	stateB := newState("B", 1, healthy)
	r := New(zap.NewNop(), []*ProviderState{stateA, stateB})
	defer r.Stop()

	// Pin the slot order so A is tried first regardless of the shuffle.
	r.mu.Lock()
	r.slots = []*ProviderState{stateA, stateA, stateA, stateB}
	r.next = 0
	r.mu.Unlock()

	start := time.Now()
	text, err := r.Generate(context.Background(), "prompt", "")
	require.NoError(t, err)
	require.Equal(t, "from B", text)
	require.GreaterOrEqual(t, time.Since(start), time.Second, "rate limit path sleeps 1s before moving on")

	stateA.mu.Lock()
	defer stateA.mu.Unlock()
	require.Equal(t, stateA.RPM, stateA.requestsThisMinute, "a 429 sets the minute counter to the provider's RPM")
}
