package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL         string
	Port                string
	SessionSecret       string
	TokenSigningSecret  string
	MfaEncryptionSecret string
	RedisURL            string
	DevMode             bool
}

// Load reads configuration from environment variables. All credential
// material is validated here, once, so that services can assume a usable
// configuration instead of null-checking per call.
func Load() (*Config, error) {
	cfg := &Config{
		Port: "8080", // default port
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if _, err := url.Parse(databaseURL); err != nil {
		return nil, fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	cfg.DatabaseURL = databaseURL

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET environment variable is required")
	}
	if len(sessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 bytes, got %d", len(sessionSecret))
	}
	cfg.SessionSecret = sessionSecret

	tokenSecret := os.Getenv("TOKEN_SIGNING_SECRET")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SIGNING_SECRET environment variable is required")
	}
	if len(tokenSecret) < 32 {
		return nil, fmt.Errorf("TOKEN_SIGNING_SECRET must be at least 32 bytes, got %d", len(tokenSecret))
	}
	cfg.TokenSigningSecret = tokenSecret

	mfaSecret := os.Getenv("MFA_ENCRYPTION_SECRET")
	if mfaSecret == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_SECRET environment variable is required")
	}
	cfg.MfaEncryptionSecret = mfaSecret

	// Optional: Redis-backed rate limiter. Empty means in-memory limiter.
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		cfg.RedisURL = redisURL
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	return cfg, nil
}
