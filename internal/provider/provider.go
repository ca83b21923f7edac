// Package provider implements the uniform generative-provider contract:
// one Client per upstream chat-completion API, each classifying HTTP
// failures into a shared Error shape so the router can make retry
// decisions without knowing provider specifics.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// Name identifies one of the five required provider implementations.
type Name string

const (
	GROQ      Name = "GROQ"
	GEMINI    Name = "GEMINI"
	COHERE    Name = "COHERE"
	CEREBRAS  Name = "CEREBRAS"
	SAMBANOVA Name = "SAMBANOVA"
)

// Error is the classified failure shape every Client implementation returns.
type Error struct {
	Provider    Name
	StatusCode  int
	Retryable   bool
	RateLimited bool
	Cause       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// classify maps an HTTP status code to the retryable/rateLimited outcome.
func classify(provider Name, status int, body string) *Error {
	e := &Error{Provider: provider, StatusCode: status, Cause: fmt.Errorf("%s", body)}
	switch {
	case status == http.StatusTooManyRequests:
		e.Retryable = true
		e.RateLimited = true
	case status >= 500:
		e.Retryable = true
	case status == 410 || status == 413:
	case status == 401 || status == 403:
	default:
	}
	return e
}

// Client generates text from a single prompt against one provider.
type Client interface {
	Name() Name
	DefaultModel() string
	Generate(ctx context.Context, prompt, apiKey, model string) (string, error)
}

// maxReadBytes caps each response read at 32 MiB, which leaves room for
// responses of 16 MiB and more; io.LimitReader caps pathological upstream
// responses rather than trusting Content-Length.
const maxReadBytes = 32 * 1024 * 1024

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
}

func doPost(ctx context.Context, client *http.Client, provider Name, url string, headers map[string]string, payload any) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Provider: provider, Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &Error{Provider: provider, Retryable: true, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(provider, resp.StatusCode, string(body))
	}
	return body, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
