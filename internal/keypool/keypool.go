// Package keypool implements the API Key Pool: an ordered
// set of keys, each owning a token bucket and health state, selecting the
// healthiest key for a caller and deterministically pinning a document to
// one key for embedding-load observability.
package keypool

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/bucket"
	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/models"
)

const embeddingPoolLabel = "embedding"

// ErrorKind classifies a failed call for ReportFailure bookkeeping.
type ErrorKind string

const (
	ErrRateLimit ErrorKind = "RATE_LIMIT"
	ErrAuth      ErrorKind = "AUTH"
	ErrOther     ErrorKind = "OTHER"
)

const (
	defaultBucketCapacity = 15
	defaultBucketRate     = 15.0 / 60.0 // 15 per minute
)

type keyState struct {
	key    string
	bucket *bucket.TokenBucket

	mu                  sync.Mutex
	consecutiveFailures int
	totalRequests       int64
	totalFailures       int64
	lastFailureTime     time.Time
	lastSuccessTime     time.Time
	disabledUntil       time.Time
}

func (ks *keyState) disabled(now time.Time) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.disabledUntil.IsZero() {
		return false
	}
	if now.After(ks.disabledUntil) {
		ks.disabledUntil = time.Time{}
		ks.consecutiveFailures = 0
		return false
	}
	return true
}

// Pool is a set of keys each guarded by its own TokenBucket, selecting among
// non-disabled keys by descending available tokens.
type Pool struct {
	mu   sync.RWMutex
	keys []*keyState

	maxConsecutiveFailures int
	disableDuration        time.Duration

	rdb    *redis.Client
	log    *zap.Logger
	prefix string
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithRedis attaches a redis.Client for cross-restart ApiKeyUsage snapshots.
// Persistence is best-effort: failures are logged, never returned to callers.
func WithRedis(rdb *redis.Client, keyPrefix string) Option {
	return func(p *Pool) {
		p.rdb = rdb
		p.prefix = keyPrefix
	}
}

// WithFailurePolicy overrides the default MAX_CONSECUTIVE_FAILURES/DISABLE_DURATION.
func WithFailurePolicy(maxConsecutiveFailures int, disableDuration time.Duration) Option {
	return func(p *Pool) {
		p.maxConsecutiveFailures = maxConsecutiveFailures
		p.disableDuration = disableDuration
	}
}

// New builds a Pool over the given keys, each given a fresh C=R=15/min
// bucket; the bucket capacity and rate are fixed, not configurable.
func New(log *zap.Logger, keys []string, opts ...Option) *Pool {
	p := &Pool{
		maxConsecutiveFailures: 3,
		disableDuration:        5 * time.Minute,
		log:                    log,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, k := range keys {
		p.keys = append(p.keys, newKeyState(k))
	}
	return p
}

func newKeyState(key string) *keyState {
	return &keyState{
		key:    key,
		bucket: bucket.New(defaultBucketCapacity, defaultBucketRate),
	}
}

// Acquire chooses among non-disabled keys sorted by descending available
// tokens, attempting a bucket debit on each; it sleeps the minimum bucket
// wait time across keys and loops until maxWait elapses, then fails.
func (p *Pool) Acquire(maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	for {
		if key, ok := p.tryAcquireBest(); ok {
			return key, nil
		}
		now := time.Now()
		if now.After(deadline) {
			return "", apierr.New(apierr.UpstreamRateLimit, "no available API key within deadline")
		}
		wait := p.minWaitTime()
		if wait > time.Second {
			wait = time.Second
		}
		if remaining := deadline.Sub(now); wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			return "", apierr.New(apierr.UpstreamRateLimit, "no available API key within deadline")
		}
		time.Sleep(wait)
	}
}

func (p *Pool) tryAcquireBest() (string, bool) {
	p.mu.RLock()
	candidates := make([]*keyState, 0, len(p.keys))
	now := time.Now()
	for _, ks := range p.keys {
		if !ks.disabled(now) {
			candidates = append(candidates, ks)
		}
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].bucket.Available() > candidates[j].bucket.Available()
	})

	for _, ks := range candidates {
		if ks.bucket.TryAcquire(1) {
			return ks.key, true
		}
	}
	return "", false
}

func (p *Pool) minWaitTime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := time.Now()
	min := time.Hour
	found := false
	for _, ks := range p.keys {
		if ks.disabled(now) {
			continue
		}
		if w := ks.bucket.WaitTime(); !found || w < min {
			min = w
			found = true
		}
	}
	if !found {
		return time.Second
	}
	return min
}

// AcquireFor deterministically pins docID to keys[hash(docId) mod len(keys)];
// if that key is disabled, falls back to any healthy key.
func (p *Pool) AcquireFor(docID string) (string, error) {
	p.mu.RLock()
	n := len(p.keys)
	p.mu.RUnlock()
	if n == 0 {
		return "", apierr.New(apierr.UpstreamRateLimit, "key pool is empty")
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(docID))
	idx := int(h.Sum64() % uint64(n))

	p.mu.RLock()
	primary := p.keys[idx]
	p.mu.RUnlock()

	if !primary.disabled(time.Now()) && primary.bucket.TryAcquire(1) {
		return primary.key, nil
	}

	if key, ok := p.tryAcquireBest(); ok {
		return key, nil
	}
	return "", apierr.New(apierr.UpstreamRateLimit, "assigned key disabled and no healthy fallback")
}

// ReportSuccess zeroes consecutiveFailures and increments totalRequests.
func (p *Pool) ReportSuccess(key string) {
	ks := p.find(key)
	if ks == nil {
		return
	}
	ks.mu.Lock()
	ks.consecutiveFailures = 0
	ks.totalRequests++
	ks.lastSuccessTime = time.Now()
	ks.mu.Unlock()

	p.refreshDisabledGauge()
	p.snapshot(ks)
}

// ReportFailure increments consecutiveFailures/totalFailures, marks the
// bucket depleted on rate-limit errors, and disables the key once
// consecutiveFailures reaches the configured threshold.
func (p *Pool) ReportFailure(key string, kind ErrorKind) {
	ks := p.find(key)
	if ks == nil {
		return
	}

	if kind == ErrRateLimit {
		ks.bucket.MarkDepleted()
	}

	ks.mu.Lock()
	ks.consecutiveFailures++
	ks.totalFailures++
	ks.lastFailureTime = time.Now()
	if ks.consecutiveFailures >= p.maxConsecutiveFailures {
		ks.disabledUntil = time.Now().Add(p.disableDuration)
		if p.log != nil {
			p.log.Warn("disabling API key after consecutive failures",
				zap.Int("consecutiveFailures", ks.consecutiveFailures),
				zap.Duration("disableFor", p.disableDuration))
		}
	}
	ks.mu.Unlock()

	p.refreshDisabledGauge()
	p.snapshot(ks)
}

// refreshDisabledGauge recomputes the count of currently disabled keys so
// the exported gauge never drifts from keyState's own bookkeeping.
func (p *Pool) refreshDisabledGauge() {
	p.mu.RLock()
	keys := p.keys
	p.mu.RUnlock()

	now := time.Now()
	var disabled int
	for _, ks := range keys {
		if ks.disabled(now) {
			disabled++
		}
	}
	metrics.KeyPoolDisabled.WithLabelValues(embeddingPoolLabel).Set(float64(disabled))
}

// UpdateKeys merges newly configured keys, never removing existing ones, so
// config hot-reload never invalidates an in-flight acquisition.
func (p *Pool) UpdateKeys(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]bool, len(p.keys))
	for _, ks := range p.keys {
		existing[ks.key] = true
	}
	for _, k := range keys {
		if !existing[k] {
			p.keys = append(p.keys, newKeyState(k))
		}
	}
}

func (p *Pool) find(key string) *keyState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ks := range p.keys {
		if ks.key == key {
			return ks
		}
	}
	return nil
}

// snapshot best-effort persists the key's health state to Redis with a 24h
// TTL so it survives a restart.
func (p *Pool) snapshot(ks *keyState) {
	if p.rdb == nil {
		return
	}
	ks.mu.Lock()
	usage := models.ApiKeyUsage{
		KeyIdentifier:       identifierFor(ks.key),
		ConsecutiveFailures: ks.consecutiveFailures,
		LastSuccessAt:       ks.lastSuccessTime,
		LastFailureAt:       ks.lastFailureTime,
	}
	ks.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := sonic.Marshal(usage)
	if err != nil {
		if p.log != nil {
			p.log.Warn("failed to marshal key usage snapshot", zap.Error(err))
		}
		return
	}
	if err := p.rdb.Set(ctx, p.prefix+usage.KeyIdentifier, data, 24*time.Hour).Err(); err != nil {
		if p.log != nil {
			p.log.Warn("failed to persist key usage snapshot", zap.Error(err))
		}
	}
}

// identifierFor never logs or stores the raw key; callers only ever see a
// short fingerprint suitable for dashboards.
func identifierFor(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return "key-" + strconv.FormatUint(h.Sum64(), 16)
}
