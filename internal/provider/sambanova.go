package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// SambaNovaClient talks to SambaNova's OpenAI-compatible chat-completions endpoint.
type SambaNovaClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

func NewSambaNovaClient(defaultModel string) *SambaNovaClient {
	return &SambaNovaClient{
		client:       newHTTPClient(90 * time.Second),
		baseURL:      "https://api.sambanova.ai/v1/chat/completions",
		defaultModel: defaultModel,
	}
}

func (c *SambaNovaClient) Name() Name           { return SAMBANOVA }
func (c *SambaNovaClient) DefaultModel() string { return c.defaultModel }

func (c *SambaNovaClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	payload := openAIChatRequest{
		Model:    model,
		Messages: []openAIChatMessage{{Role: "user", Content: prompt}},
	}
	body, err := doPost(ctx, c.client, SAMBANOVA, c.baseURL, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, payload)
	if err != nil {
		return "", err
	}

	var parsed openAIChatResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", SAMBANOVA, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", SAMBANOVA)
	}
	return parsed.Choices[0].Message.Content, nil
}
