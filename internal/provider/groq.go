package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// GroqClient talks to Groq's OpenAI-compatible chat-completions endpoint.
type GroqClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

// NewGroqClient builds a client with the 60s timeout fast inference
// providers like Groq need.
func NewGroqClient(defaultModel string) *GroqClient {
	return &GroqClient{
		client:       newHTTPClient(60 * time.Second),
		baseURL:      "https://api.groq.com/openai/v1/chat/completions",
		defaultModel: defaultModel,
	}
}

func (c *GroqClient) Name() Name           { return GROQ }
func (c *GroqClient) DefaultModel() string { return c.defaultModel }

func (c *GroqClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	payload := openAIChatRequest{
		Model:    model,
		Messages: []openAIChatMessage{{Role: "user", Content: prompt}},
	}
	body, err := doPost(ctx, c.client, GROQ, c.baseURL, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, payload)
	if err != nil {
		return "", err
	}

	var parsed openAIChatResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", GROQ, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", GROQ)
	}
	return parsed.Choices[0].Message.Content, nil
}

// openAIChatRequest/openAIChatResponse model the OpenAI-style chat shape
// shared by GROQ, CEREBRAS and SAMBANOVA.
type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}
