// Package llm wraps the external text-generation APIs used to reconstruct
// messages for their recipients.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable: credentials not configured")
	ErrProviderCall        = errors.New("provider call failed")
	ErrInvalidRequest      = errors.New("invalid generation request")
	ErrAllProvidersFailed  = errors.New("all LLM providers failed")
)

// Generation is one completed provider call.
type Generation struct {
	Text       string
	Confidence float64
	TokenCount int
}

// Provider is a single text-generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Generation, error)
}

// Descriptor is the static configuration of a provider.
type Descriptor struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Confidence float64
}

// CallError reports a failed remote call. It matches ErrProviderCall.
type CallError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool { return target == ErrProviderCall }

func validateRequest(prompt string, maxTokens int, temperature float64) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidRequest, maxTokens)
	}
	if temperature <= 0 {
		return fmt.Errorf("%w: temperature must be positive, got %v", ErrInvalidRequest, temperature)
	}
	return nil
}

// defaultHTTPClient has no timeout of its own; callers bound each attempt
// through the context.
func defaultHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport}
}

// postJSON sends body as JSON and decodes a 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &CallError{Provider: provider, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &CallError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &CallError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &CallError{Provider: provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &CallError{Provider: provider, StatusCode: resp.StatusCode, Err: errors.New(snippet(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &CallError{Provider: provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

func wordCount(parts ...string) int {
	n := 0
	for _, p := range parts {
		n += len(strings.Fields(p))
	}
	return n
}
