package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider generates text through the Gemini API.
type GeminiProvider struct {
	desc       Descriptor
	httpClient *http.Client

	newClient func(context.Context, *genai.ClientConfig) (*genai.Client, error)

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a Gemini provider. The genai client is built
// lazily on the first call so a missing key never fails startup. A failed
// build is retried on the next call.
func NewGeminiProvider(desc Descriptor, client *http.Client) *GeminiProvider {
	if desc.Name == "" {
		desc.Name = "gemini"
	}
	if desc.Model == "" {
		desc.Model = defaultGeminiModel
	}
	if desc.Confidence == 0 {
		desc.Confidence = 0.8
	}
	return &GeminiProvider{desc: desc, httpClient: client, newClient: genai.NewClient}
}

// Name returns the configured provider name.
func (p *GeminiProvider) Name() string { return p.desc.Name }

func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     p.desc.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.desc.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.desc.BaseURL}
	}
	client, err := p.newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// Generate runs one generateContent call.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Generation, error) {
	if err := validateRequest(prompt, maxTokens, temperature); err != nil {
		return nil, err
	}
	if p.desc.APIKey == "" {
		return nil, ErrProviderUnavailable
	}

	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, &CallError{Provider: p.desc.Name, Err: fmt.Errorf("create genai client: %w", err)}
	}

	resp, err := client.Models.GenerateContent(ctx, p.desc.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr(float32(temperature)),
	})
	if err != nil {
		callErr := &CallError{Provider: p.desc.Name, Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			callErr.StatusCode = apiErr.Code
		}
		return nil, callErr
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, &CallError{Provider: p.desc.Name, StatusCode: http.StatusOK, Err: errors.New("malformed response: no candidates")}
	}

	tokens := wordCount(prompt, text)
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Generation{
		Text:       text,
		Confidence: p.desc.Confidence,
		TokenCount: tokens,
	}, nil
}
