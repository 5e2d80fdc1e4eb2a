// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// SFTP listener
	Host string
	Port int

	// PublicHost, when set, overrides Host in client-facing connection
	// instructions (e.g. when listening on 0.0.0.0 behind a public name).
	PublicHost string

	// StorageRoot is the base directory holding the host key material and
	// the per-account sandbox roots.
	StorageRoot string

	// Metrics
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Webhooks
	WebhookInsecureTLS bool
	WebhookTimeout     time.Duration

	// IncludeClientKeypair controls whether onboarding material generated
	// for new accounts ships a client RSA keypair.
	IncludeClientKeypair bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                 envOr("SFTP_HOST", "0.0.0.0"),
		Port:                 envInt("SFTP_PORT", 2222),
		PublicHost:           envOr("SFTP_PUBLIC_HOST", ""),
		StorageRoot:          envOr("SFTP_STORAGE_ROOT", "storage/sftp"),
		MetricsAddr:          envOr("METRICS_ADDR", ":9090"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogFormat:            envOr("LOG_FORMAT", "json"),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		WebhookInsecureTLS:   envBool("SFTP_WEBHOOK_INSECURE_TLS", false),
		WebhookTimeout:       envDuration("SFTP_WEBHOOK_TIMEOUT", 30*time.Second),
		IncludeClientKeypair: envBool("SFTP_INCLUDE_CLIENT_KEYPAIR", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SFTP_PORT out of range: %d", cfg.Port)
	}

	return cfg, nil
}

// ListenAddr returns the host:port the SFTP listener binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdvertisedHost returns the host clients should be told to connect to.
func (c *Config) AdvertisedHost() string {
	if c.PublicHost != "" {
		return c.PublicHost
	}
	return c.Host
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
