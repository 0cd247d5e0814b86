package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/metrics"
	"github.com/eldtechnologies/sensechat/internal/models"
)

// Fixed generation budget for reconstructions.
const (
	MaxTokens   = 200
	Temperature = 0.7

	defaultAttemptTimeout = 15 * time.Second
)

// Request carries everything the prompt is built from.
type Request struct {
	Summary   string
	Slots     map[string]any
	Style     string
	Language  string
	Neighbors []models.Neighbor
}

// Result is the winning provider's output.
type Result struct {
	Text       string
	Confidence float64
	Provider   string
	TokenCount int
}

// Attempt records one failed provider call.
type Attempt struct {
	Provider string
	Err      error
	Duration time.Duration
}

// AllProvidersFailedError lists every failed attempt. It matches
// ErrAllProvidersFailed.
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersFailed.Error() + ": no providers configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return ErrAllProvidersFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

// Reconstructor tries providers in configured order until one answers.
type Reconstructor struct {
	providers []Provider
	timeout   time.Duration
	logger    zerolog.Logger

	mu             sync.Mutex
	current        string
	lastTokenCount int
}

// NewReconstructor creates a Reconstructor. A non-positive timeout uses the
// default per-provider timeout.
func NewReconstructor(logger zerolog.Logger, timeout time.Duration, providers ...Provider) *Reconstructor {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	return &Reconstructor{
		providers: providers,
		timeout:   timeout,
		logger:    logger.With().Str("component", "reconstructor").Logger(),
	}
}

// Providers returns provider names in attempt order.
func (r *Reconstructor) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// CurrentProvider is the provider that served the most recent success.
func (r *Reconstructor) CurrentProvider() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// LastTokenCount is the token count reported by the most recent success.
func (r *Reconstructor) LastTokenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTokenCount
}

// Reconstruct renders the summary for a recipient.
func (r *Reconstructor) Reconstruct(ctx context.Context, req Request) (*Result, error) {
	prompt := BuildPrompt(req)
	failed := &AllProvidersFailedError{}

	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			failed.Attempts = append(failed.Attempts, Attempt{Provider: p.Name(), Err: err})
			break
		}

		start := time.Now()
		gen, err := r.attempt(ctx, p, prompt)
		elapsed := time.Since(start)
		metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(elapsed.Seconds())

		if err != nil {
			metrics.ProviderCalls.WithLabelValues(p.Name(), outcome(err)).Inc()
			r.logger.Warn().
				Err(err).
				Str("provider", p.Name()).
				Dur("latency", elapsed).
				Msg("provider failed, trying next")
			failed.Attempts = append(failed.Attempts, Attempt{Provider: p.Name(), Err: err, Duration: elapsed})
			continue
		}

		metrics.ProviderCalls.WithLabelValues(p.Name(), "success").Inc()

		r.mu.Lock()
		r.current = p.Name()
		r.lastTokenCount = gen.TokenCount
		r.mu.Unlock()

		return &Result{
			Text:       gen.Text,
			Confidence: clamp01(gen.Confidence),
			Provider:   p.Name(),
			TokenCount: gen.TokenCount,
		}, nil
	}

	r.logger.Error().
		Int("attempts", len(failed.Attempts)).
		Msg("all providers failed")
	return nil, failed
}

func (r *Reconstructor) attempt(ctx context.Context, p Provider, prompt string) (*Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	gen, err := p.Generate(ctx, prompt, MaxTokens, Temperature)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, &CallError{Provider: p.Name(), Err: errors.New("provider returned no generation")}
	}
	return gen, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
