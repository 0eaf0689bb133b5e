package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	// Run from a temp dir so a developer's .env is never picked up.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	env := map[string]string{
		"BASE_URL":             "https://calmirror.example.com",
		"OIDC_ISSUER":          "https://idp.example.com",
		"OIDC_CLIENT_ID":       "calmirror",
		"OIDC_CLIENT_SECRET":   "oidc-secret",
		"OIDC_REDIRECT_URL":    "https://calmirror.example.com/auth/callback",
		"GOOGLE_CLIENT_ID":     "123.apps.googleusercontent.com",
		"GOOGLE_CLIENT_SECRET": "google-secret",
		"GOOGLE_REDIRECT_URL":  "https://calmirror.example.com/auth/google/callback",
		"ENCRYPTION_KEY":       testKey,
		"SESSION_SECRET":       strings.Repeat("s", 32),
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Errorf("expected production by default, got %q", cfg.Server.Environment)
	}
	if cfg.Server.FrontendURL != cfg.Server.BaseURL {
		t.Errorf("FrontendURL should default to BASE_URL, got %q", cfg.Server.FrontendURL)
	}
	if cfg.Sync.Schedule != "@every 10m" {
		t.Errorf("Schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.Sync.CallTimeout != 30*time.Second || cfg.Sync.Pause != 100*time.Millisecond {
		t.Errorf("unexpected engine tuning: %+v", cfg.Sync)
	}
	if cfg.Sync.LogRetentionDays != 30 {
		t.Errorf("LogRetentionDays = %d", cfg.Sync.LogRetentionDays)
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		t.Errorf("EncryptionKey length = %d", len(cfg.Security.EncryptionKey))
	}
	if cfg.Alerts.WebhookEnabled || cfg.Alerts.CooldownMinutes != 60 {
		t.Errorf("unexpected alert defaults: %+v", cfg.Alerts)
	}
	if cfg.Database.Path != "./data/calmirror.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("SYNC_SCHEDULE", "*/5 * * * *")
	t.Setenv("BIDIRECTIONAL_PAUSE_MS", "250")
	t.Setenv("ALERT_WEBHOOK_ENABLED", "true")
	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.slack.com/services/x")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.IsDevelopment() {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Sync.Schedule != "*/5 * * * *" || cfg.Sync.Pause != 250*time.Millisecond {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	if !cfg.Alerts.WebhookEnabled || cfg.Alerts.WebhookURL == "" {
		t.Errorf("unexpected alert config: %+v", cfg.Alerts)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{"missing google client", "GOOGLE_CLIENT_ID", "", ErrMissingConfig},
		{"missing base url", "BASE_URL", "", ErrMissingConfig},
		{"bad port", "PORT", "eighty", ErrInvalidConfig},
		{"bad key hex", "ENCRYPTION_KEY", "zz", ErrInvalidConfig},
		{"short key", "ENCRYPTION_KEY", "0011", ErrEncryptionKeySize},
		{"short secret", "SESSION_SECRET", "short", ErrSessionSecretSize},
		{"bad bool", "ALERT_WEBHOOK_ENABLED", "maybe", ErrInvalidConfig},
		{"zero retention", "LOG_RETENTION_DAYS", "0", ErrInvalidConfig},
		{"bad rps", "RATE_LIMIT_RPS", "fast", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsHTTPInProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GOOGLE_REDIRECT_URL", "http://calmirror.example.com/auth/google/callback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err = cfg.Validate(context.Background())
	if !errors.Is(err, ErrValidationFailed) || !strings.Contains(err.Error(), "GOOGLE_REDIRECT_URL") {
		t.Errorf("expected GOOGLE_REDIRECT_URL validation failure, got %v", err)
	}
}
