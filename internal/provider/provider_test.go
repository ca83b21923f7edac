package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		status              int
		retryable, rateLim  bool
	}{
		{429, true, true},
		{500, true, false},
		{503, true, false},
		{410, false, false},
		{413, false, false},
		{401, false, false},
		{403, false, false},
		{422, false, false},
	}
	for _, c := range cases {
		e := classify(GROQ, c.status, "boom")
		require.Equal(t, c.retryable, e.Retryable, "status %d retryable", c.status)
		require.Equal(t, c.rateLim, e.RateLimited, "status %d rateLimited", c.status)
	}
}

func TestGroqGenerateParsesChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello world"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient("llama-3.3-70b-versatile")
	c.baseURL = srv.URL

	text, err := c.Generate(context.Background(), "hi", "test-key", "")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestGroqGenerateReturnsClassifiedErrorOnRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	c := NewGroqClient("llama-3.3-70b-versatile")
	c.baseURL = srv.URL

	_, err := c.Generate(context.Background(), "hi", "test-key", "")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	require.True(t, pe.RateLimited)
	require.True(t, pe.Retryable)
}

func TestGeminiGenerateParsesCandidateParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"gemini says hi"}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("gemini-1.5-flash")
	c.baseURL = srv.URL

	text, err := c.Generate(context.Background(), "hi", "test-key", "")
	require.NoError(t, err)
	require.Equal(t, "gemini says hi", text)
}

func TestCohereGenerateParsesTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"cohere reply"}`))
	}))
	defer srv.Close()

	c := NewCohereClient("command-r")
	c.baseURL = srv.URL

	text, err := c.Generate(context.Background(), "hi", "test-key", "")
	require.NoError(t, err)
	require.Equal(t, "cohere reply", text)
}

func TestNewDefaultCoversAllFiveProviders(t *testing.T) {
	for _, name := range []Name{GROQ, GEMINI, COHERE, CEREBRAS, SAMBANOVA} {
		c := NewDefault(name, "some-model")
		require.NotNil(t, c, "provider %s should resolve a client", name)
		require.Equal(t, name, c.Name())
	}
}
