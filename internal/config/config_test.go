package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.APIBaseURL = "https://crm.example.com/api"
	cfg.QRPollInterval = Duration{5 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.QRPollInterval.Duration != 5*time.Second {
		t.Errorf("QRPollInterval = %v, want 5s", loaded.QRPollInterval)
	}
	if loaded.Socket.FallbackAfter != 3 {
		t.Errorf("Socket.FallbackAfter = %d, want 3", loaded.Socket.FallbackAfter)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
api_base_url = "http://localhost:3001/api"
rate_limit_cooldown = "1m"

[retry]
max_attempts = 2
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitCooldown.Duration != time.Minute {
		t.Errorf("RateLimitCooldown = %v, want 1m", cfg.RateLimitCooldown)
	}
	p := cfg.RetryPolicy()
	if p.MaxAttempts != 2 || p.BaseDelay != time.Second {
		t.Errorf("RetryPolicy() = %+v", p)
	}
	if cfg.StatusPollInterval.Duration != 10*time.Second {
		t.Errorf("StatusPollInterval = %v, want default 10s", cfg.StatusPollInterval)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`qr_poll_interval = "soon"`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", cfg.Retry.MaxAttempts)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("CRM_LOG_LEVEL=debug\nCRM_API_BASE_URL=http://from-dotenv/api\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvAPIBaseURL, "http://from-env/api")
	t.Setenv(EnvLogLevel, "")
	os.Unsetenv(EnvLogLevel)

	if err := LoadEnvFile(envFile); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	cfg := Default()
	cfg.APIBaseURL = "http://from-file/api"
	cfg.ApplyEnv()
	if cfg.APIBaseURL != "http://from-env/api" {
		t.Errorf("APIBaseURL = %q, existing env must win over .env", cfg.APIBaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug from .env", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing url", func(c *Config) { c.APIBaseURL = "" }, "not configured"},
		{"relative url", func(c *Config) { c.APIBaseURL = "/api" }, "absolute"},
		{"bad scheme", func(c *Config) { c.APIBaseURL = "ftp://x/api" }, "absolute"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad jitter", func(c *Config) { c.Retry.Jitter = 1.5 }, "jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIBaseURL = "https://crm.example.com/api"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
