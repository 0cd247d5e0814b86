package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("LLM_PROVIDERS", "")
	t.Setenv("LLM_TIMEOUT", "")
	t.Setenv("MESSAGE_TTL", "")
	t.Setenv("ARCHIVE_BUCKET", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"gemini", "openai", "anthropic"}, cfg.ProviderOrder)
	assert.Equal(t, 15*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 24*time.Hour, cfg.MessageTTL)
	assert.Equal(t, "chat_messages", cfg.RelayChannel)
	assert.False(t, cfg.ArchiveEnabled())
	assert.Contains(t, cfg.Providers, "openrouter")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("LLM_PROVIDERS", " openai , ,anthropic")
	t.Setenv("LLM_TIMEOUT", "3s")
	t.Setenv("MESSAGE_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_PALM_API_KEY", "legacy-key")
	t.Setenv("ARCHIVE_BUCKET", "sensechat-archive")

	cfg := Load()
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.ProviderOrder)
	assert.Equal(t, 3*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 24*time.Hour, cfg.MessageTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
	assert.Equal(t, "legacy-key", cfg.Providers["gemini"].APIKey)
	assert.True(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadProductionRequiresStores(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	assert.PanicsWithValue(t, "DATABASE_URL is required in production", func() { Load() })

	t.Setenv("DATABASE_URL", "postgres://localhost/sensechat")
	t.Setenv("REDIS_URL", "")
	assert.PanicsWithValue(t, "REDIS_URL is required in production", func() { Load() })
}
