package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the repoanalyst client, CLI and web front.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Poll    PollConfig
	Render  RenderConfig
	Redis   RedisConfig
}

type ServerConfig struct {
	Port       int
	Env        string
	SessionTTL time.Duration
}

// BackendConfig locates the analysis service that owns jobs.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollConfig struct {
	Interval time.Duration
	// MaxDuration bounds a single polling run. Zero polls until a terminal status.
	MaxDuration time.Duration
}

type RenderConfig struct {
	SanitizeHTML bool
}

type RedisConfig struct {
	URL       string
	ReportTTL time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:       envInt("ANALYST_PORT", 8080),
			Env:        envString("ANALYST_ENV", "development"),
			SessionTTL: envDuration("ANALYST_SESSION_TTL", time.Hour),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(envString("ANALYST_BACKEND_URL", "http://localhost:8000"), "/"),
			Timeout: envDuration("ANALYST_HTTP_TIMEOUT", 30*time.Second),
		},
		Poll: PollConfig{
			Interval:    envDuration("ANALYST_POLL_INTERVAL", 5*time.Second),
			MaxDuration: envDuration("ANALYST_MAX_POLL_DURATION", 0),
		},
		Render: RenderConfig{
			SanitizeHTML: envBool("ANALYST_SANITIZE_HTML", true),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			ReportTTL: envDuration("ANALYST_REPORT_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("ANALYST_BACKEND_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("ANALYST_BACKEND_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("ANALYST_HTTP_TIMEOUT must be positive, got %s", c.Backend.Timeout)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("ANALYST_POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxDuration < 0 {
		return fmt.Errorf("ANALYST_MAX_POLL_DURATION must not be negative, got %s", c.Poll.MaxDuration)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("ANALYST_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// envDuration accepts Go duration strings ("5s") and bare integers as milliseconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
