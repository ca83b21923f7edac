package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// CohereClient talks to Cohere's chat endpoint, whose response carries the
// generated text directly under a top-level "text" field.
type CohereClient struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

func NewCohereClient(defaultModel string) *CohereClient {
	return &CohereClient{
		client:       newHTTPClient(60 * time.Second),
		baseURL:      "https://api.cohere.com/v1/chat",
		defaultModel: defaultModel,
	}
}

func (c *CohereClient) Name() Name           { return COHERE }
func (c *CohereClient) DefaultModel() string { return c.defaultModel }

type cohereRequest struct {
	Model   string `json:"model"`
	Message string `json:"message"`
}

type cohereResponse struct {
	Text string `json:"text"`
}

func (c *CohereClient) Generate(ctx context.Context, prompt, apiKey, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	payload := cohereRequest{Model: model, Message: prompt}
	body, err := doPost(ctx, c.client, COHERE, c.baseURL, map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, payload)
	if err != nil {
		return "", err
	}

	var parsed cohereResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", COHERE, err)
	}
	if parsed.Text == "" {
		return "", fmt.Errorf("%s: empty text", COHERE)
	}
	return parsed.Text, nil
}
