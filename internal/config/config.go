package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/Xfuse1/whatsapp-crm/internal/retry"
)

// Environment overrides.
const (
	EnvAPIBaseURL = "CRM_API_BASE_URL"
	EnvLogLevel   = "CRM_LOG_LEVEL"
)

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.whatsapp-crm/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	APIBaseURL     string `toml:"api_base_url"`
	LogLevel       string `toml:"log_level"`
	Notifications  bool   `toml:"notifications"`
	Sound          bool   `toml:"sound"`

	StatusPollInterval Duration `toml:"status_poll_interval"`
	QRPollInterval     Duration `toml:"qr_poll_interval"`
	RateLimitCooldown  Duration `toml:"rate_limit_cooldown"`

	Retry  RetryConfig  `toml:"retry"`
	Socket SocketConfig `toml:"socket"`
}

// RetryConfig is the REST retry policy.
type RetryConfig struct {
	MaxAttempts uint     `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	Jitter      float64  `toml:"jitter"`
}

// SocketConfig is the event stream reconnect policy.
type SocketConfig struct {
	ReconnectAttempts  int      `toml:"reconnect_attempts"`
	FallbackAfter      int      `toml:"fallback_after"`
	ReconnectBaseDelay Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  Duration `toml:"reconnect_max_delay"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		Notifications:      true,
		Sound:              true,
		StatusPollInterval: Duration{10 * time.Second},
		QRPollInterval:     Duration{3 * time.Second},
		RateLimitCooldown:  Duration{30 * time.Second},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			Jitter:      0.2,
		},
		Socket: SocketConfig{
			ReconnectAttempts:  10,
			FallbackAfter:      3,
			ReconnectBaseDelay: Duration{time.Second},
			ReconnectMaxDelay:  Duration{5 * time.Second},
		},
	}
}

// Load reads config from the given path on top of the defaults. Returns
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the settings the client cannot start without.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is not configured (set it in config.toml or %s)", EnvAPIBaseURL)
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_base_url %q must be an absolute http(s) URL", c.APIBaseURL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1), got %v", c.Retry.Jitter)
	}
	if c.Socket.ReconnectAttempts < 0 || c.Socket.FallbackAfter < 0 {
		return errors.New("socket.reconnect_attempts and socket.fallback_after must not be negative")
	}
	return nil
}

// RetryPolicy returns the REST gateway retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay.Duration
	p.MaxDelay = c.Retry.MaxDelay.Duration
	p.Jitter = c.Retry.Jitter
	return p
}

// ReconnectPolicy returns the socket reconnect delay schedule.
func (c *Config) ReconnectPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:  c.Socket.ReconnectBaseDelay.Duration,
		MaxDelay:   c.Socket.ReconnectMaxDelay.Duration,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
