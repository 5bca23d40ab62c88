package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Retry.Timeout != 2500*time.Millisecond {
		t.Errorf("Retry.Timeout = %v, want 2.5s", cfg.Retry.Timeout)
	}
	if cfg.Retry.MaxRetries != 1 {
		t.Errorf("Retry.MaxRetries = %d, want 1", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BackoffMultiplier != 1.0 {
		t.Errorf("Retry.BackoffMultiplier = %v, want 1.0", cfg.Retry.BackoffMultiplier)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("Queue.Workers = %d, want 4", cfg.Queue.Workers)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
user_agent: "ItemsApp/2.0"
queue:
  workers: 8
retry:
  timeout: 5s
  max_retries: 3
  backoff_multiplier: 2
redis:
  url: "redis://localhost:6379/0"
cache:
  enabled: true
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.UserAgent != "ItemsApp/2.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("Queue.Workers = %d, want 8", cfg.Queue.Workers)
	}
	if cfg.Queue.BufferSize != 256 {
		t.Errorf("Queue.BufferSize = %d, want default 256", cfg.Queue.BufferSize)
	}
	if cfg.Retry.Timeout != 5*time.Second {
		t.Errorf("Retry.Timeout = %v, want 5s", cfg.Retry.Timeout)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BackoffMultiplier != 2 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if !cfg.Cache.Enabled || cfg.Log.Level != "debug" {
		t.Errorf("Cache/Log not loaded: %+v %+v", cfg.Cache, cfg.Log)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VREQUEST_USER_AGENT", "EnvApp/1.0")
	t.Setenv("VREQUEST_WORKERS", "2")
	t.Setenv("VREQUEST_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("VREQUEST_RATE_LIMIT_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.UserAgent != "EnvApp/1.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.Queue.Workers != 2 {
		t.Errorf("Queue.Workers = %d, want 2", cfg.Queue.Workers)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" || !cfg.RateLimit.Enabled {
		t.Errorf("Redis/RateLimit not overridden: %+v %+v", cfg.Redis, cfg.RateLimit)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("bad yaml", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "queue: [")); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("VREQUEST_WORKERS", "many")
		if _, err := Load(""); err == nil {
			t.Error("expected error for non-numeric VREQUEST_WORKERS")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"empty user agent", func(c *Config) { c.UserAgent = " " }, "user_agent is required"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "queue.workers must be >= 1 (got 0)"},
		{"negative buffer", func(c *Config) { c.Queue.BufferSize = -1 }, "queue.buffer_size cannot be negative (got -1)"},
		{"zero timeout", func(c *Config) { c.Retry.Timeout = 0 }, "retry.timeout must be greater than 0"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries cannot be negative (got -1)"},
		{"negative multiplier", func(c *Config) { c.Retry.BackoffMultiplier = -0.5 }, "retry.backoff_multiplier cannot be negative"},
		{"cache without redis", func(c *Config) { c.Cache.Enabled = true }, "redis.url is required when cache or rate_limit is enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Error() != tt.errMsg {
				t.Errorf("error = %q, want %q", err.Error(), tt.errMsg)
			}
		})
	}
}
