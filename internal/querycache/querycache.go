// Package querycache implements the query answer cache: normalized
// exact-hash lookup first, falling back to a semantic kNN match over
// previously cached answers in the same chat. An optional Redis layer in
// front of the exact-hash path serves the answer body; a Redis hit still
// runs the expired-row sweep and a hit-count update in Postgres.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"

	"github.com/semaj90/ragengine/internal/metrics"
	"github.com/semaj90/ragengine/internal/models"
)

// DefaultSemanticThreshold is the cosine-similarity floor
// above which a semantic match is accepted as a cache hit.
const DefaultSemanticThreshold = 0.92

// DefaultTTL is how long a stored answer stays servable.
const DefaultTTL = 24 * time.Hour

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Embedder produces a query embedding for semantic lookup/store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is a Postgres-backed query answer cache scoped per chat.
type Cache struct {
	pool      *pgxpool.Pool
	embedder  Embedder
	threshold float64
	ttl       time.Duration

	rdb    *redis.Client
	prefix string
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithTTL overrides the default 24h expiry for stored answers.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRedis fronts the exact-hash path with a Redis layer. Redis failures
// never fail a lookup; the Postgres row remains authoritative.
func WithRedis(rdb *redis.Client, keyPrefix string) Option {
	return func(c *Cache) {
		c.rdb = rdb
		c.prefix = keyPrefix
	}
}

// New builds a Cache using threshold for semantic-match acceptance; zero
// falls back to DefaultSemanticThreshold.
func New(pool *pgxpool.Pool, embedder Embedder, threshold float64, opts ...Option) *Cache {
	if threshold <= 0 {
		threshold = DefaultSemanticThreshold
	}
	c := &Cache{pool: pool, embedder: embedder, threshold: threshold, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Answer is a cached response returned by Find.
type Answer struct {
	ID           uuid.UUID
	ResponseText string
	SourcesUsed  []models.SourceRef
	HitCount     int64
}

// Normalize lowercases, folds non-alphanumeric runs to single spaces, and trims.
func Normalize(question string) string {
	lower := strings.ToLower(question)
	folded := nonAlphanumeric.ReplaceAllString(lower, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(folded), " "))
}

// Hash returns base64(sha256(normalized)).
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Find performs an exact-hash lookup and falls back to a semantic match,
// sweeping expired rows first.
func (c *Cache) Find(ctx context.Context, chatID uuid.UUID, question string) (*Answer, error) {
	if err := c.sweepExpired(ctx); err != nil {
		return nil, err
	}

	normalized := Normalize(question)
	hash := Hash(normalized)

	if ans := c.redisLookup(ctx, chatID, hash); ans != nil {
		metrics.CacheLookups.WithLabelValues("exact_hit").Inc()
		return ans, nil
	}

	if ans, err := c.exactLookup(ctx, chatID, hash); err != nil {
		return nil, err
	} else if ans != nil {
		metrics.CacheLookups.WithLabelValues("exact_hit").Inc()
		c.redisStore(ctx, chatID, hash, ans)
		return ans, nil
	}

	ans, err := c.semanticLookup(ctx, chatID, question)
	if err != nil {
		return nil, err
	}
	if ans != nil {
		metrics.CacheLookups.WithLabelValues("semantic_hit").Inc()
		return ans, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, nil
}

func (c *Cache) sweepExpired(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, "DELETE FROM query_cache WHERE expires_at < now()")
	if err != nil {
		return fmt.Errorf("sweep expired cache rows: %w", err)
	}
	return nil
}

func (c *Cache) exactLookup(ctx context.Context, chatID uuid.UUID, hash string) (*Answer, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT id, response_text, sources_used, hit_count
		FROM query_cache
		WHERE chat_id = $1 AND query_hash = $2 AND expires_at > now()
		LIMIT 1
	`, chatID, hash)

	var ans Answer
	var sourcesJSON []byte
	if err := row.Scan(&ans.ID, &ans.ResponseText, &sourcesJSON, &ans.HitCount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("exact cache lookup: %w", err)
	}
	ans.SourcesUsed = decodeSources(sourcesJSON)

	if _, err := c.pool.Exec(ctx, "UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = $1", ans.ID); err != nil {
		return nil, fmt.Errorf("increment hit count: %w", err)
	}
	ans.HitCount++
	return &ans, nil
}

func (c *Cache) semanticLookup(ctx context.Context, chatID uuid.UUID, question string) (*Answer, error) {
	qVec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query for semantic cache lookup: %w", err)
	}

	row := c.pool.QueryRow(ctx, `
		SELECT id, response_text, sources_used, hit_count, (query_embedding <=> $1) as distance
		FROM query_cache
		WHERE chat_id = $2 AND expires_at > now()
		ORDER BY query_embedding <=> $1 ASC
		LIMIT 1
	`, pgvector.NewVector(qVec), chatID)

	var ans Answer
	var sourcesJSON []byte
	var distance float64
	if err := row.Scan(&ans.ID, &ans.ResponseText, &sourcesJSON, &ans.HitCount, &distance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("semantic cache lookup: %w", err)
	}

	similarity := 1 - distance
	if similarity < c.threshold {
		return nil, nil
	}

	ans.SourcesUsed = decodeSources(sourcesJSON)
	if _, err := c.pool.Exec(ctx, "UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = $1", ans.ID); err != nil {
		return nil, fmt.Errorf("increment hit count: %w", err)
	}
	ans.HitCount++
	return &ans, nil
}

// Store upserts a cached answer. A live row under the same (chat, hash) is
// left alone — the concurrent writer that got there first wins — while an
// expired row not yet swept is refreshed in place.
func (c *Cache) Store(ctx context.Context, userID, chatID uuid.UUID, question, answer string, sources []models.SourceRef) error {
	normalized := Normalize(question)
	hash := Hash(normalized)

	qVec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embed query for cache store: %w", err)
	}

	sourcesJSON, err := encodeSources(sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	id := uuid.New()
	_, err = c.pool.Exec(ctx, `
		INSERT INTO query_cache
			(id, user_id, chat_id, query_text, query_hash, query_embedding, response_text, sources_used, created_at, expires_at, hit_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now()+$9::interval,0)
		ON CONFLICT (chat_id, query_hash) DO UPDATE
		SET query_text = EXCLUDED.query_text,
		    query_embedding = EXCLUDED.query_embedding,
		    response_text = EXCLUDED.response_text,
		    sources_used = EXCLUDED.sources_used,
		    created_at = now(),
		    expires_at = EXCLUDED.expires_at,
		    hit_count = 0
		WHERE query_cache.expires_at < now()
	`, id, userID, chatID, question, hash, pgvector.NewVector(qVec), answer, sourcesJSON,
		fmt.Sprintf("%d seconds", int(c.ttl.Seconds())))
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}

	c.redisStore(ctx, chatID, hash, &Answer{ID: id, ResponseText: answer, SourcesUsed: sources})
	return nil
}

// Invalidate deletes all cached answers for a chat, called when documents
// in that chat change.
func (c *Cache) Invalidate(ctx context.Context, chatID uuid.UUID) error {
	if _, err := c.pool.Exec(ctx, "DELETE FROM query_cache WHERE chat_id = $1", chatID); err != nil {
		return fmt.Errorf("invalidate cache for chat: %w", err)
	}
	c.redisInvalidate(ctx, chatID)
	return nil
}

func (c *Cache) redisKey(chatID uuid.UUID, hash string) string {
	return c.prefix + chatID.String() + ":" + hash
}

func (c *Cache) redisLookup(ctx context.Context, chatID uuid.UUID, hash string) *Answer {
	if c.rdb == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, c.redisKey(chatID, hash)).Bytes()
	if err != nil {
		return nil
	}
	var ans Answer
	if err := sonic.Unmarshal(data, &ans); err != nil {
		return nil
	}
	// Hit accounting stays authoritative in Postgres even when Redis
	// answers; a zero row count means the row expired and the Redis copy is
	// stale, so fall through to the real lookup path.
	tag, err := c.pool.Exec(ctx, "UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = $1", ans.ID)
	if err != nil || tag.RowsAffected() == 0 {
		return nil
	}
	ans.HitCount++
	return &ans
}

func (c *Cache) redisStore(ctx context.Context, chatID uuid.UUID, hash string, ans *Answer) {
	if c.rdb == nil {
		return
	}
	data, err := sonic.Marshal(ans)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.redisKey(chatID, hash), data, c.ttl).Err()
}

func (c *Cache) redisInvalidate(ctx context.Context, chatID uuid.UUID) {
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, c.prefix+chatID.String()+":*", 100).Iterator()
	for iter.Next(ctx) {
		_ = c.rdb.Del(ctx, iter.Val()).Err()
	}
}

func encodeSources(sources []models.SourceRef) ([]byte, error) {
	if sources == nil {
		sources = []models.SourceRef{}
	}
	return sonic.Marshal(sources)
}

func decodeSources(data []byte) []models.SourceRef {
	var sources []models.SourceRef
	if len(data) == 0 {
		return sources
	}
	_ = sonic.Unmarshal(data, &sources)
	return sources
}
