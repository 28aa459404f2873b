// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment provider
	StripeSecretKey     string
	StripeWebhookSecret string
	TransferMode        string // "test" or "live"; part of transfer idempotency keys

	// Settlement
	PlatformUserID      string // account that retains the platform leg and funds rewards
	SmallRemainderCents int64  // materials remainder at or below this is auto-credited to the payer
	RewardSweepInterval time.Duration
	DefaultCurrency     string

	// Observability
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT; empty disables tracing
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultTransferMode        = "test"
	DefaultPlatformUserID      = "platform"
	DefaultSmallRemainderCents = 500
	DefaultCurrency            = "usd"
	DefaultRewardSweepInterval = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		TransferMode:        getEnv("TRANSFER_MODE", DefaultTransferMode),
		PlatformUserID:      getEnv("PLATFORM_USER_ID", DefaultPlatformUserID),
		SmallRemainderCents: getEnvInt64("SMALL_REMAINDER_CENTS", DefaultSmallRemainderCents),
		RewardSweepInterval: getEnvDuration("REWARD_SWEEP_INTERVAL", DefaultRewardSweepInterval),
		DefaultCurrency:     getEnv("DEFAULT_CURRENCY", DefaultCurrency),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TransferMode != "test" && c.TransferMode != "live" {
		return fmt.Errorf("TRANSFER_MODE must be \"test\" or \"live\", got %q", c.TransferMode)
	}

	if c.TransferMode == "live" && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in live mode")
	}

	if c.PlatformUserID == "" {
		return fmt.Errorf("PLATFORM_USER_ID must not be empty")
	}

	if c.SmallRemainderCents < 0 {
		return fmt.Errorf("SMALL_REMAINDER_CENTS must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
