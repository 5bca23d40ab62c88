package vrequest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/andyfriends/vrequest/pkg/config"
	"github.com/andyfriends/vrequest/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App is the application context a Manager is built from.
type App struct {
	Config config.Config

	// Redis backs the response cache and rate limit state. Nil disables both.
	Redis *redis.Client

	Logger zerolog.Logger

	// HTTPClient replaces the network client's transport when set.
	HTTPClient *http.Client
}

// NewApp creates an App from a loaded configuration.
func NewApp(cfg config.Config, redisClient *redis.Client) *App {
	return &App{
		Config: cfg,
		Redis:  redisClient,
		Logger: logging.NewLogger("vrequest"),
	}
}

// OpenApp creates an App and connects to Redis when the configuration
// enables the cache or rate limiting.
func OpenApp(ctx context.Context, cfg config.Config) (*App, error) {
	if !cfg.Cache.Enabled && !cfg.RateLimit.Enabled {
		return NewApp(cfg, nil), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewApp(cfg, redisClient), nil
}

// Close releases the Redis connection.
func (a *App) Close() error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Close()
}
