package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTracker(t *testing.T) (*Tracker, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewTracker(client, zerolog.Nop()), client
}

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		last     time.Time
		expected bool
	}{
		{"fresh state", time.Now(), false},
		{"stale state", time.Now().Add(-10 * time.Minute), true},
		{"just under max age", time.Now().Add(-4 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{LastUpdate: tt.last}
			if got := state.IsStale(5 * time.Minute); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Decisions(t *testing.T) {
	tests := []struct {
		name           string
		remaining      int
		resetIn        time.Duration
		expectBlock    bool
		expectThrottle bool
		expectHealthy  bool
	}{
		{"healthy", 100, time.Minute, false, false, true},
		{"at healthy threshold", RemainingHealthy, time.Minute, false, false, true},
		{"warning", 5, time.Minute, false, true, false},
		{"at critical threshold", RemainingCritical, time.Minute, false, true, false},
		{"critical", 1, time.Minute, true, false, false},
		{"critical after reset", 0, -time.Second, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{
				Remaining:  tt.remaining,
				ResetAt:    time.Now().Add(tt.resetIn),
				LastUpdate: time.Now(),
			}
			state.UpdateHealth()

			if got := state.NeedsBlock(); got != tt.expectBlock {
				t.Errorf("NeedsBlock() = %v, want %v", got, tt.expectBlock)
			}
			if got := state.NeedsThrottling(); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expectThrottle)
			}
			if state.IsHealthy != tt.expectHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.expectHealthy)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	past := &State{ResetAt: time.Now().Add(-time.Minute)}
	if past.TimeUntilReset() != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", past.TimeUntilReset())
	}

	future := &State{ResetAt: time.Now().Add(30 * time.Second)}
	if d := future.TimeUntilReset(); d < 29*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", d)
	}
}

func TestTracker_GetState_Default(t *testing.T) {
	tracker, _ := setupTracker(t)

	state, err := tracker.GetState(context.Background(), "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsHealthy || state.NeedsBlock() || state.NeedsThrottling() {
		t.Errorf("unknown host should be healthy, got %+v", state)
	}
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tracker, client := setupTracker(t)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set(HeaderRemaining, "7")
	headers.Set(HeaderReset, "30")

	if err := tracker.UpdateFromHeaders(ctx, "API.example.com", headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err := tracker.GetState(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 7 {
		t.Errorf("Remaining = %d, want 7", state.Remaining)
	}
	if d := state.TimeUntilReset(); d < 28*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", d)
	}

	ttl, err := client.TTL(ctx, Key("api.example.com")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 30*time.Second {
		t.Errorf("state TTL = %v, want longer than the reset window", ttl)
	}
}

func TestTracker_UpdateFromHeaders_Invalid(t *testing.T) {
	tracker, _ := setupTracker(t)

	tests := []struct {
		name        string
		remain      string
		reset       string
		shouldError bool
	}{
		{"missing remain header", "", "60", false},
		{"both headers missing", "", "", false},
		{"invalid remain header", "many", "60", true},
		{"missing reset header", "10", "", true},
		{"invalid reset header", "10", "soon", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.remain != "" {
				headers.Set(HeaderRemaining, tt.remain)
			}
			if tt.reset != "" {
				headers.Set(HeaderReset, tt.reset)
			}

			err := tracker.UpdateFromHeaders(context.Background(), "api.example.com", headers)
			if (err != nil) != tt.shouldError {
				t.Errorf("UpdateFromHeaders() error = %v, shouldError %v", err, tt.shouldError)
			}
		})
	}
}

func TestTracker_Wait(t *testing.T) {
	old := ThrottleDelay
	ThrottleDelay = 20 * time.Millisecond
	defer func() { ThrottleDelay = old }()

	tracker, _ := setupTracker(t)
	ctx := context.Background()

	update := func(host, remain string) {
		h := http.Header{}
		h.Set(HeaderRemaining, remain)
		h.Set(HeaderReset, "60")
		if err := tracker.UpdateFromHeaders(ctx, host, h); err != nil {
			t.Fatalf("UpdateFromHeaders() error = %v", err)
		}
	}

	t.Run("healthy", func(t *testing.T) {
		update("healthy.example.com", "100")
		start := time.Now()
		if err := tracker.Wait(ctx, "healthy.example.com"); err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		if time.Since(start) >= ThrottleDelay {
			t.Error("healthy host should not be throttled")
		}
	})

	t.Run("warning", func(t *testing.T) {
		update("low.example.com", "5")
		start := time.Now()
		if err := tracker.Wait(ctx, "low.example.com"); err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		if time.Since(start) < ThrottleDelay {
			t.Error("low budget should be throttled")
		}
	})

	t.Run("warning with cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := tracker.Wait(cctx, "low.example.com"); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	})

	t.Run("critical", func(t *testing.T) {
		update("empty.example.com", "0")
		err := tracker.Wait(ctx, "empty.example.com")
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("Wait() error = %v, want ErrRateLimited", err)
		}
	})
}
