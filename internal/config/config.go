// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the stream client.
type Config struct {
	// Primary transport (enriched on-chain data stream)
	PrimaryWSURL     string
	PublisherAddress string

	// Fallback transport (push socket)
	FallbackWSURL string

	// Seen-event persistence
	SeenStorePath string // directory for the file-backed store
	RedisURL      string // when set, redis replaces the file store

	// Subscription lifecycle
	TeardownGrace time.Duration

	// Metrics
	PrometheusPort int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		PrimaryWSURL:     getEnv("STREAM_RPC_WS_URL", "wss://dream-rpc.somnia.network/ws"),
		PublisherAddress: getEnv("STREAM_PUBLISHER_ADDRESS", ""),

		FallbackWSURL: getEnv("FALLBACK_WS_URL", "wss://api.oddyssey.xyz/ws"),

		SeenStorePath: getEnv("SEEN_STORE_PATH", "./data/seen"),
		RedisURL:      getEnv("REDIS_URL", ""),

		TeardownGrace: time.Duration(getEnvInt("TEARDOWN_GRACE_SECONDS", 30)) * time.Second,

		PrometheusPort: getEnvInt("PROMETHEUS_PORT", 9090),

		EnableTUI:     getEnvBool("ENABLE_TUI", true),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.PrimaryWSURL == "" {
		return fmt.Errorf("STREAM_RPC_WS_URL is required")
	}

	if c.FallbackWSURL == "" {
		return fmt.Errorf("FALLBACK_WS_URL is required")
	}

	if c.TeardownGrace <= 0 {
		return fmt.Errorf("TEARDOWN_GRACE_SECONDS must be positive")
	}

	if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
		return fmt.Errorf("PROMETHEUS_PORT must be between 1 and 65535")
	}

	return nil
}

// MaskedPrimaryURL returns the RPC URL with any embedded key hidden for logging.
func (c *Config) MaskedPrimaryURL() string {
	return maskSecret(c.PrimaryWSURL)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
