package main

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/config"
	"github.com/eldtechnologies/sensechat/internal/llm"
)

// buildProviders returns providers in LLM_PROVIDERS order. Unknown names
// are skipped; providers without a key are kept and fail fast as
// unavailable.
func buildProviders(cfg *config.Config, logger zerolog.Logger) []llm.Provider {
	var providers []llm.Provider
	seen := make(map[string]bool)

	for _, name := range cfg.ProviderOrder {
		name = strings.ToLower(name)
		if seen[name] {
			continue
		}
		seen[name] = true

		pc := cfg.Providers[name]
		desc := llm.Descriptor{Name: name, APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.Model}

		switch name {
		case "gemini":
			providers = append(providers, llm.NewGeminiProvider(desc, nil))
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(desc, nil))
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(desc, nil))
		case "openrouter":
			providers = append(providers, llm.NewOpenRouterProvider(desc, nil))
		default:
			logger.Warn().Str("provider", name).Msg("unknown LLM provider, skipping")
			continue
		}
		if pc.APIKey == "" {
			logger.Warn().Str("provider", name).Msg("no API key configured")
		}
	}
	return providers
}
