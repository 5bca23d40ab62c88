// Package config loads vrequest configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration shared by the request manager,
// the network client and the proxy command.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent"`

	Queue     QueueConfig     `yaml:"queue"`
	Retry     RetryConfig     `yaml:"retry"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

// QueueConfig sizes the request queue.
type QueueConfig struct {
	Workers    int `yaml:"workers"`
	BufferSize int `yaml:"buffer_size"`
}

// RetryConfig holds the parameters of the default retry policy.
type RetryConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RedisConfig points at the Redis instance backing the cache and rate limit state.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults of the default retry policy.
const (
	DefaultTimeout           = 2500 * time.Millisecond
	DefaultMaxRetries        = 1
	DefaultBackoffMultiplier = 1.0
)

// DefaultConfig returns a configuration that works without Redis.
func DefaultConfig() Config {
	return Config{
		UserAgent: "vrequest/0.1.0",
		Queue: QueueConfig{
			Workers:    4,
			BufferSize: 256,
		},
		Retry: RetryConfig{
			Timeout:           DefaultTimeout,
			MaxRetries:        DefaultMaxRetries,
			BackoffMultiplier: DefaultBackoffMultiplier,
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig, applies VREQUEST_*
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.UserAgent = getEnv("VREQUEST_USER_AGENT", c.UserAgent)
	c.Redis.URL = getEnv("VREQUEST_REDIS_URL", c.Redis.URL)
	c.Log.Level = getEnv("VREQUEST_LOG_LEVEL", c.Log.Level)
	c.Server.Addr = getEnv("VREQUEST_ADDR", c.Server.Addr)

	if v := os.Getenv("VREQUEST_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse VREQUEST_WORKERS: %w", err)
		}
		c.Queue.Workers = n
	}
	if v := os.Getenv("VREQUEST_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse VREQUEST_CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = b
	}
	if v := os.Getenv("VREQUEST_RATE_LIMIT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse VREQUEST_RATE_LIMIT_ENABLED: %w", err)
		}
		c.RateLimit.Enabled = b
	}
	return nil
}

// Validate checks the configuration for values the queue and client cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("user_agent is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1 (got %d)", c.Queue.Workers)
	}
	if c.Queue.BufferSize < 0 {
		return fmt.Errorf("queue.buffer_size cannot be negative (got %d)", c.Queue.BufferSize)
	}
	if c.Retry.Timeout <= 0 {
		return fmt.Errorf("retry.timeout must be greater than 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative (got %d)", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffMultiplier < 0 {
		return fmt.Errorf("retry.backoff_multiplier cannot be negative")
	}
	if (c.Cache.Enabled || c.RateLimit.Enabled) && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when cache or rate_limit is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
