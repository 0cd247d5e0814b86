package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicModel   = "claude-3-sonnet-20240229"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	desc   Descriptor
	client *http.Client
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicProvider creates an Anthropic messages provider.
func NewAnthropicProvider(desc Descriptor, client *http.Client) *AnthropicProvider {
	if desc.Name == "" {
		desc.Name = "anthropic"
	}
	if desc.BaseURL == "" {
		desc.BaseURL = defaultAnthropicBaseURL
	}
	if desc.Model == "" {
		desc.Model = defaultAnthropicModel
	}
	if desc.Confidence == 0 {
		desc.Confidence = 0.85
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &AnthropicProvider{desc: desc, client: client}
}

// Name returns the configured provider name.
func (p *AnthropicProvider) Name() string { return p.desc.Name }

// Generate runs one messages call.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Generation, error) {
	if err := validateRequest(prompt, maxTokens, temperature); err != nil {
		return nil, err
	}
	if p.desc.APIKey == "" {
		return nil, ErrProviderUnavailable
	}

	body := anthropicRequest{
		Model:       p.desc.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.desc.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	url := strings.TrimRight(p.desc.BaseURL, "/") + "/messages"
	if err := postJSON(ctx, p.client, p.desc.Name, url, headers, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Content) == 0 || strings.TrimSpace(resp.Content[0].Text) == "" {
		return nil, &CallError{Provider: p.desc.Name, StatusCode: http.StatusOK, Err: errors.New("malformed response: no content")}
	}

	return &Generation{
		Text:       resp.Content[0].Text,
		Confidence: p.desc.Confidence,
		TokenCount: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}
