//go:build integration

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})

	t.Cleanup(func() {
		client.Close()
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	return client
}

func TestIntegration_CacheAndRateLimit(t *testing.T) {
	redisClient := setupRedisContainer(t)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=300")
		w.Header().Set("X-RateLimit-Remaining", "40")
		w.Header().Set("X-RateLimit-Reset", "30")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, err := New(Config{
		Redis:           redisClient,
		UserAgent:       "vrequest-integration/1.0",
		EnableCache:     true,
		EnableRateLimit: true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := c.Get(ctx, server.URL+"/items?page=1")
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i, err)
		}
		if string(resp.Body) != `{"ok":true}` {
			t.Errorf("Body = %q", resp.Body)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (rest served from cache)", hits.Load())
	}

	host := server.Listener.Addr().String()
	remaining, err := redisClient.HGet(ctx, "vrequest:rate_limit:"+host, "remaining").Result()
	if err != nil {
		t.Fatalf("HGet() error = %v", err)
	}
	if remaining != "40" {
		t.Errorf("stored remaining = %q, want 40", remaining)
	}
}
