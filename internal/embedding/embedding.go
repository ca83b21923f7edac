// Package embedding wraps the embedding API: it acquires a key from the
// key pool, posts to the embedding endpoint, validates the response
// dimension, and maps HTTP failures back into the pool's health
// bookkeeping.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pgvector/pgvector-go"

	"github.com/semaj90/ragengine/internal/apierr"
	"github.com/semaj90/ragengine/internal/keypool"
	"github.com/semaj90/ragengine/internal/models"
)

const (
	maxAttempts        = 3
	batchSubBatchSize  = 100
	minInterRequestGap = 600 * time.Millisecond
	batchTimeout       = 120 * time.Second
	defaultKeyWait     = 30 * time.Second
)

// Service wraps the embedding API behind key-pool acquisition.
type Service struct {
	keys    *keypool.Pool
	client  *http.Client
	baseURL string
	model   string
	keyWait time.Duration

	throttleMu    sync.Mutex
	lastRequestAt time.Time
}

// Option configures a Service at construction.
type Option func(*Service)

// WithKeyWait overrides how long Embed blocks waiting for an available key.
func WithKeyWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.keyWait = d
		}
	}
}

// New builds an embedding Service against baseURL/model (Gemini's
// embedContent shape: POST {baseURL}/v1beta/models/{model}:embedContent).
func New(keys *keypool.Pool, baseURL, model string, opts ...Option) *Service {
	s := &Service{
		keys:    keys,
		client:  &http.Client{Timeout: 90 * time.Second},
		baseURL: baseURL,
		model:   model,
		keyWait: defaultKeyWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type embedContentRequest struct {
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed acquires a key from the pool's general acquire, posts text, validates
// the returned dimension, and retries up to maxAttempts times on retryable
// statuses.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedWithSelector(ctx, text, func() (string, error) {
		return s.keys.Acquire(s.keyWait)
	})
}

// EmbedForDocument embeds text using the key deterministically assigned to
// docID (hash(docID) mod keyCount), giving every embedding task for one
// document a stable, observable key.
func (s *Service) EmbedForDocument(ctx context.Context, text, docID string) ([]float32, error) {
	return s.embedWithSelector(ctx, text, func() (string, error) {
		return s.keys.AcquireFor(docID)
	})
}

func (s *Service) embedWithSelector(ctx context.Context, text string, selectKey func() (string, error)) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		vec, retryable, err := s.embedOnce(ctx, text, selectKey)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if attempt < maxAttempts-1 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Service) embedOnce(ctx context.Context, text string, selectKey func() (string, error)) ([]float32, bool, error) {
	key, err := selectKey()
	if err != nil {
		return nil, false, err
	}

	var req embedContentRequest
	req.Content.Parts = append(req.Content.Parts, struct {
		Text string `json:"text"`
	}{Text: text})

	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", s.baseURL, s.model, key)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("build embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.keys.ReportFailure(key, keypool.ErrOther)
		return nil, true, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind, retryable := classifyStatus(resp.StatusCode)
		s.keys.ReportFailure(key, kind)
		return nil, retryable, apierr.Wrap(apierr.UpstreamFailure, fmt.Sprintf("embedding API status %d", resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		s.keys.ReportFailure(key, keypool.ErrOther)
		return nil, true, fmt.Errorf("read embed response: %w", err)
	}

	var parsed embedContentResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		s.keys.ReportFailure(key, keypool.ErrOther)
		return nil, true, fmt.Errorf("decode embed response: %w", err)
	}

	if len(parsed.Embedding.Values) != models.EmbeddingDim {
		s.keys.ReportFailure(key, keypool.ErrOther)
		return nil, false, fmt.Errorf("embedding dimension mismatch: got %d want %d", len(parsed.Embedding.Values), models.EmbeddingDim)
	}

	s.keys.ReportSuccess(key)
	return parsed.Embedding.Values, false, nil
}

func classifyStatus(status int) (keypool.ErrorKind, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return keypool.ErrRateLimit, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return keypool.ErrAuth, false
	case status >= 500:
		return keypool.ErrOther, true
	default:
		return keypool.ErrOther, false
	}
}

// EmbedBatch splits texts into sub-batches of ≤100, enforcing a global
// inter-request minimum gap of 600ms to respect ~100 RPM.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSubBatchSize {
		end := start + batchSubBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			s.throttle()
			vec, err := s.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

func (s *Service) throttle() {
	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()
	if s.lastRequestAt.IsZero() {
		s.lastRequestAt = time.Now()
		return
	}
	if gap := time.Since(s.lastRequestAt); gap < minInterRequestGap {
		time.Sleep(minInterRequestGap - gap)
	}
	s.lastRequestAt = time.Now()
}

// ToVectorString produces the canonical "[f1,f2,...,fD]" serialization the
// vector column expects.
func ToVectorString(vec []float32) string {
	return pgvector.NewVector(vec).String()
}
