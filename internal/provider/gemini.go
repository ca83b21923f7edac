package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// GeminiClient talks to Google's Generative Language API, whose response
// shape (candidates[0].content.parts[0].text) differs from the OpenAI-style
// providers.
type GeminiClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

func NewGeminiClient(defaultModel string) *GeminiClient {
	return &GeminiClient{
		client:       newHTTPClient(90 * time.Second),
		baseURL:      "https://generativelanguage.googleapis.com/v1beta/models",
		defaultModel: defaultModel,
	}
}

func (c *GeminiClient) Name() Name           { return GEMINI }
func (c *GeminiClient) DefaultModel() string { return c.defaultModel }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, apiKey)
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	body, err := doPost(ctx, c.client, GEMINI, url, nil, payload)
	if err != nil {
		return "", err
	}

	var parsed geminiResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", GEMINI, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: empty candidates", GEMINI)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
