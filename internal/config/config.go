package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig is the static configuration of one LLM provider.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	UsersConfig string

	// HTTP
	CORSOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Reconstruction
	ProviderOrder []string
	LLMTimeout    time.Duration
	Providers     map[string]ProviderConfig

	// Embedding
	EmbeddingBackend string // "hash" or "genai"
	EmbeddingModel   string

	// Retention
	MessageTTL    time.Duration
	PurgeInterval time.Duration

	// Realtime relay
	RelayChannel string
	InstanceID   string

	// Archive
	ArchiveBucket string
	ArchivePrefix string
	AWSRegion     string
	AWSAccessKey  string
	AWSSecretKey  string
	S3Endpoint    string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/sensechat.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		UsersConfig:      getEnv("USERS_CONFIG", "config/users.json"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",

		ProviderOrder: splitList(getEnv("LLM_PROVIDERS", "gemini,openai,anthropic")),
		LLMTimeout:    getDuration("LLM_TIMEOUT", 15*time.Second),

		EmbeddingBackend: getEnv("EMBEDDING_BACKEND", "hash"),
		EmbeddingModel:   os.Getenv("EMBEDDING_MODEL"),

		MessageTTL:    getDuration("MESSAGE_TTL", 24*time.Hour),
		PurgeInterval: getDuration("PURGE_INTERVAL", 10*time.Minute),

		RelayChannel: getEnv("RELAY_CHANNEL", "chat_messages"),
		InstanceID:   getEnv("INSTANCE_ID", getEnv("FLY_ALLOC_ID", hostname())),

		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		ArchivePrefix: getEnv("ARCHIVE_PREFIX", "messages"),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKey:  os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
	}

	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	cfg.Providers = map[string]ProviderConfig{
		"gemini": {
			Name:    "gemini",
			APIKey:  getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_PALM_API_KEY")),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
			Model:   os.Getenv("GEMINI_MODEL"),
		},
		"openai": {
			Name:    "openai",
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("OPENAI_MODEL"),
		},
		"anthropic": {
			Name:    "anthropic",
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			Model:   os.Getenv("ANTHROPIC_MODEL"),
		},
		"openrouter": {
			Name:    "openrouter",
			APIKey:  os.Getenv("OPENROUTER_API_KEY"),
			BaseURL: os.Getenv("OPENROUTER_BASE_URL"),
			Model:   os.Getenv("OPENROUTER_MODEL"),
		},
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ArchiveEnabled reports whether expired messages are archived to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "sensechat"
	}
	return name
}
