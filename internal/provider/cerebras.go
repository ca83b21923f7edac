package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// CerebrasClient talks to Cerebras's OpenAI-compatible chat-completions endpoint.
type CerebrasClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

func NewCerebrasClient(defaultModel string) *CerebrasClient {
	return &CerebrasClient{
		client:       newHTTPClient(60 * time.Second),
		baseURL:      "https://api.cerebras.ai/v1/chat/completions",
		defaultModel: defaultModel,
	}
}

func (c *CerebrasClient) Name() Name           { return CEREBRAS }
func (c *CerebrasClient) DefaultModel() string { return c.defaultModel }

func (c *CerebrasClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	payload := openAIChatRequest{
		Model:    model,
		Messages: []openAIChatMessage{{Role: "user", Content: prompt}},
	}
	body, err := doPost(ctx, c.client, CEREBRAS, c.baseURL, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, payload)
	if err != nil {
		return "", err
	}

	var parsed openAIChatResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", CEREBRAS, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", CEREBRAS)
	}
	return parsed.Choices[0].Message.Content, nil
}
