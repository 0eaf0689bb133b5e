package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/macjediwizard/calmirror/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	OIDC         OIDCConfig
	Google       GoogleConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	RateLimiting RateLimitConfig
	Sync         SyncConfig
	Alerts       AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	BaseURL     string
	FrontendURL string
	Environment Environment
}

// OIDCConfig holds OIDC authentication configuration for user login.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleConfig holds the OAuth client used to connect calendar accounts.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey     []byte
	SessionSecret     string
	SessionMaxAgeSecs int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SyncConfig holds scheduling and engine tuning.
type SyncConfig struct {
	Schedule         string
	CallTimeout      time.Duration
	Pause            time.Duration
	LogRetentionDays int
}

// AlertConfig holds webhook alert configuration.
type AlertConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	var err error

	// Server configuration
	if cfg.Server.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.BaseURL = getEnvRequired("BASE_URL")
	cfg.Server.FrontendURL = getEnv("FRONTEND_URL", cfg.Server.BaseURL)
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// OIDC configuration
	cfg.OIDC.Issuer = getEnvRequired("OIDC_ISSUER")
	cfg.OIDC.ClientID = getEnvRequired("OIDC_CLIENT_ID")
	cfg.OIDC.ClientSecret = getEnvRequired("OIDC_CLIENT_SECRET")
	cfg.OIDC.RedirectURL = getEnvRequired("OIDC_REDIRECT_URL")

	// Google calendar connections
	cfg.Google.ClientID = getEnvRequired("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = getEnvRequired("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getEnvRequired("GOOGLE_REDIRECT_URL")

	// Security configuration
	encKeyHex := getEnvRequired("ENCRYPTION_KEY")
	if encKeyHex != "" {
		encKey, err := hex.DecodeString(encKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(encKey) != 32 {
			return nil, ErrEncryptionKeySize
		}
		cfg.Security.EncryptionKey = encKey
	}

	cfg.Security.SessionSecret = getEnvRequired("SESSION_SECRET")
	if cfg.Security.SessionSecret != "" && len(cfg.Security.SessionSecret) < 32 {
		return nil, ErrSessionSecretSize
	}
	if cfg.Security.SessionMaxAgeSecs, err = getEnvInt("SESSION_MAX_AGE_SECS", 86400); err != nil {
		return nil, fmt.Errorf("%w: SESSION_MAX_AGE_SECS: %w", ErrInvalidConfig, err)
	}

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/calmirror.db")

	// Rate limiting configuration
	if cfg.RateLimiting.RPS, err = getEnvFloat("RATE_LIMIT_RPS", 10.0); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	if cfg.RateLimiting.Burst, err = getEnvInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}

	// Sync configuration
	cfg.Sync.Schedule = getEnv("SYNC_SCHEDULE", "@every 10m")

	callTimeout, err := getEnvInt("PROVIDER_CALL_TIMEOUT_SECS", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: PROVIDER_CALL_TIMEOUT_SECS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.CallTimeout = time.Duration(callTimeout) * time.Second

	pauseMS, err := getEnvInt("BIDIRECTIONAL_PAUSE_MS", 100)
	if err != nil {
		return nil, fmt.Errorf("%w: BIDIRECTIONAL_PAUSE_MS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Pause = time.Duration(pauseMS) * time.Millisecond

	if cfg.Sync.LogRetentionDays, err = getEnvInt("LOG_RETENTION_DAYS", 30); err != nil {
		return nil, fmt.Errorf("%w: LOG_RETENTION_DAYS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.LogRetentionDays < 1 {
		return nil, fmt.Errorf("%w: LOG_RETENTION_DAYS must be at least 1", ErrInvalidConfig)
	}

	// Alerts
	if cfg.Alerts.WebhookEnabled, err = getEnvBool("ALERT_WEBHOOK_ENABLED", false); err != nil {
		return nil, fmt.Errorf("%w: ALERT_WEBHOOK_ENABLED: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	if cfg.Alerts.CooldownMinutes, err = getEnvInt("ALERT_COOLDOWN_MINUTES", 60); err != nil {
		return nil, fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}

	// Check for missing required configuration
	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	required := []struct {
		key   string
		value string
	}{
		{"BASE_URL", c.Server.BaseURL},
		{"OIDC_ISSUER", c.OIDC.Issuer},
		{"OIDC_CLIENT_ID", c.OIDC.ClientID},
		{"OIDC_CLIENT_SECRET", c.OIDC.ClientSecret},
		{"OIDC_REDIRECT_URL", c.OIDC.RedirectURL},
		{"GOOGLE_CLIENT_ID", c.Google.ClientID},
		{"GOOGLE_CLIENT_SECRET", c.Google.ClientSecret},
		{"GOOGLE_REDIRECT_URL", c.Google.RedirectURL},
		{"SESSION_SECRET", c.Security.SessionSecret},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(c.Security.EncryptionKey) == 0 {
		missing = append(missing, "ENCRYPTION_KEY")
	}

	return missing
}

// Validate checks URL formats and that the OIDC issuer is reachable.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()
	https := c.IsProduction()

	urls := []struct {
		key   string
		value string
	}{
		{"BASE_URL", c.Server.BaseURL},
		{"FRONTEND_URL", c.Server.FrontendURL},
		{"OIDC_REDIRECT_URL", c.OIDC.RedirectURL},
		{"GOOGLE_REDIRECT_URL", c.Google.RedirectURL},
	}
	for _, u := range urls {
		if err := v.ValidateURL(u.value, https); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidationFailed, u.key, err)
		}
	}

	if err := v.ValidateOIDCIssuer(ctx, c.OIDC.Issuer); err != nil {
		return fmt.Errorf("%w: OIDC_ISSUER: %w", ErrValidationFailed, err)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %w", err)
	}
	return parsed, nil
}
