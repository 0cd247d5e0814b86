package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenAIModel       = "gpt-3.5-turbo"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o-mini"
)

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
// OpenRouter speaks the same protocol and is served by this type too.
type OpenAIProvider struct {
	desc   Descriptor
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIProvider creates an OpenAI chat completions provider.
func NewOpenAIProvider(desc Descriptor, client *http.Client) *OpenAIProvider {
	if desc.Name == "" {
		desc.Name = "openai"
	}
	if desc.BaseURL == "" {
		desc.BaseURL = defaultOpenAIBaseURL
	}
	if desc.Model == "" {
		desc.Model = defaultOpenAIModel
	}
	if desc.Confidence == 0 {
		desc.Confidence = 0.9
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &OpenAIProvider{desc: desc, client: client}
}

// NewOpenRouterProvider creates an OpenAI-compatible provider pointed at OpenRouter.
func NewOpenRouterProvider(desc Descriptor, client *http.Client) *OpenAIProvider {
	if desc.Name == "" {
		desc.Name = "openrouter"
	}
	if desc.BaseURL == "" {
		desc.BaseURL = defaultOpenRouterBaseURL
	}
	if desc.Model == "" {
		desc.Model = defaultOpenRouterModel
	}
	if desc.Confidence == 0 {
		desc.Confidence = 0.85
	}
	return NewOpenAIProvider(desc, client)
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string { return p.desc.Name }

// Generate runs one chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Generation, error) {
	if err := validateRequest(prompt, maxTokens, temperature); err != nil {
		return nil, err
	}
	if p.desc.APIKey == "" {
		return nil, ErrProviderUnavailable
	}

	body := chatCompletionRequest{
		Model:       p.desc.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.desc.APIKey}

	var resp chatCompletionResponse
	url := strings.TrimRight(p.desc.BaseURL, "/") + "/chat/completions"
	if err := postJSON(ctx, p.client, p.desc.Name, url, headers, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &CallError{Provider: p.desc.Name, StatusCode: http.StatusOK, Err: errors.New("malformed response: no choices")}
	}

	text := resp.Choices[0].Message.Content
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = wordCount(prompt, text)
	}

	return &Generation{
		Text:       text,
		Confidence: p.desc.Confidence,
		TokenCount: tokens,
	}, nil
}
