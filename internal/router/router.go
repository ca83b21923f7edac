// Package router implements the weighted LLM router: a
// shuffled per-minute slot array over configured providers, giving each a
// traffic share proportional to its RPM, with failover and cooldown.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/provider"
)

const (
	unavailableFailureThreshold = 5
	unavailableCooldown         = 2 * time.Minute
	maxRetries                  = 20
	baseRetryDelay              = 500 * time.Millisecond
	maxRetryDelay               = 30 * time.Second
)

// ProviderState tracks one configured provider's traffic and health.
type ProviderState struct {
	Name   provider.Name
	Client provider.Client
	APIKey string
	Model  string
	RPM    int

	mu                  sync.Mutex
	requestsThisMinute  int
	consecutiveFailures int
	lastFailureTime     time.Time
}

func (ps *ProviderState) unavailable(now time.Time) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.consecutiveFailures < unavailableFailureThreshold {
		return false
	}
	return now.Sub(ps.lastFailureTime) < unavailableCooldown
}

func (ps *ProviderState) rpmExhausted() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.requestsThisMinute >= ps.RPM
}

// RouterFailure is raised when generate exhausts every provider without success.
type RouterFailure struct {
	AttemptedProviders []provider.Name
	LastError          error
}

func (e *RouterFailure) Error() string {
	return fmt.Sprintf("all providers exhausted (%v): %v", e.AttemptedProviders, e.LastError)
}

func (e *RouterFailure) Unwrap() error { return e.LastError }

// Router selects among configured providers round-robin over a slot array
// weighted by RPM.
type Router struct {
	log *zap.Logger

	mu    sync.Mutex
	slots []*ProviderState
	next  int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Router and starts its background per-minute counter reset.
func New(log *zap.Logger, providers []*ProviderState) *Router {
	r := &Router{log: log, stopCh: make(chan struct{})}

	var slots []*ProviderState
	for _, p := range providers {
		for i := 0; i < p.RPM; i++ {
			slots = append(slots, p)
		}
	}
	rand.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	r.slots = slots

	go r.resetLoop()
	return r
}

// Stop terminates the background minute-counter reset goroutine.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Router) resetLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			slots := r.slots
			r.mu.Unlock()
			seen := make(map[provider.Name]bool)
			for _, s := range slots {
				if seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				s.mu.Lock()
				s.requestsThisMinute = 0
				s.mu.Unlock()
			}
		case <-r.stopCh:
			return
		}
	}
}

// Generate walks the slot array, skipping
// attempted/unavailable/rpm-exhausted providers, retrying with capped
// exponential backoff until a provider succeeds or every provider has been
// exhausted.
func (r *Router) Generate(ctx context.Context, prompt, model string) (string, error) {
	r.mu.Lock()
	total := len(r.slots)
	r.mu.Unlock()
	if total == 0 {
		return "", &RouterFailure{LastError: fmt.Errorf("no providers configured")}
	}

	attempted := make(map[provider.Name]bool)
	var lastErr error
	attempt := 0

	for attempt < maxRetries && len(attempted) < r.providerCount() {
		ps := r.selectNext(attempted)
		if ps == nil {
			delay := baseRetryDelay * time.Duration(1<<uint(attempt))
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			attempted = make(map[provider.Name]bool)
			attempt++
			continue
		}

		ps.mu.Lock()
		ps.requestsThisMinute++
		ps.mu.Unlock()

		text, err := ps.Client.Generate(ctx, prompt, ps.APIKey, orDefault(model, ps.Model))
		if err == nil {
			ps.mu.Lock()
			ps.consecutiveFailures = 0
			ps.mu.Unlock()
			metrics.ProviderCalls.WithLabelValues(string(ps.Name), "ok").Inc()
			return text, nil
		}

		lastErr = err
		ps.mu.Lock()
		ps.consecutiveFailures++
		ps.lastFailureTime = time.Now()
		ps.mu.Unlock()

		var pe *provider.Error
		if errors.As(err, &pe) {
			if pe.RateLimited {
				ps.mu.Lock()
				ps.requestsThisMinute = ps.RPM
				ps.mu.Unlock()
				time.Sleep(time.Second)
			}
			if pe.StatusCode == 410 || pe.StatusCode == 413 {
				metrics.ProviderCalls.WithLabelValues(string(ps.Name), "failed").Inc()
				attempted[ps.Name] = true
				attempt++
				continue
			}
		}
		metrics.ProviderCalls.WithLabelValues(string(ps.Name), "retryable").Inc()
		attempted[ps.Name] = true
		attempt++
	}

	providers := make([]provider.Name, 0, len(attempted))
	for name := range attempted {
		providers = append(providers, name)
	}
	if r.log != nil {
		r.log.Warn("router exhausted all providers", zap.Any("attempted", providers), zap.Error(lastErr))
	}
	return "", &RouterFailure{AttemptedProviders: providers, LastError: lastErr}
}

func (r *Router) providerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[provider.Name]bool)
	for _, s := range r.slots {
		seen[s.Name] = true
	}
	return len(seen)
}

// selectNext walks the slot array starting after the last served slot,
// returning the first provider not attempted, unavailable, or rpm-exhausted.
func (r *Router) selectNext(attempted map[provider.Name]bool) *ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	n := len(r.slots)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		ps := r.slots[idx]
		if attempted[ps.Name] || ps.unavailable(now) || ps.rpmExhausted() {
			continue
		}
		r.next = (idx + 1) % n
		return ps
	}
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
