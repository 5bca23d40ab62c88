package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vrequest_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by host",
	}, []string{"host"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrequest_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the budget was exhausted",
	}, []string{"host"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrequest_rate_limit_throttles_total",
		Help: "Total number of requests delayed because the budget was low",
	}, []string{"host"})
)

// ErrRateLimited is returned when a host's budget is exhausted until its reset.
var ErrRateLimited = errors.New("rate limit exhausted")

// ThrottleDelay is the pause applied to requests in the warning range.
var ThrottleDelay = 1 * time.Second

const keyPrefix = "vrequest:rate_limit:"

// Tracker monitors per-host rate limits and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// Key returns the Redis hash holding the state of host.
func Key(host string) string {
	return keyPrefix + strings.ToLower(host)
}

// GetState retrieves the state of host. Hosts without recorded state are
// reported healthy.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, Key(host)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if len(fields) == 0 {
		return &State{
			Host:       host,
			Remaining:  RemainingHealthy,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	remaining, err := strconv.Atoi(fields["remaining"])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := strconv.ParseInt(fields["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	lastUnix, err := strconv.ParseInt(fields["last_update"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}

	state := &State{
		Host:       host,
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: time.Unix(lastUnix, 0),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders records the budget announced in a response from host.
// Responses without X-RateLimit-Remaining are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(strings.TrimSpace(resetStr))
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &State{
		Host:       host,
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	key := Key(host)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"remaining", remain,
		"reset_at", state.ResetAt.Unix(),
		"last_update", now.Unix(),
	)
	// State outlives its window a little so a stale low budget never blocks forever.
	pipe.Expire(ctx, key, time.Duration(resetSeconds)*time.Second+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(host).Set(float64(remain))

	switch {
	case state.NeedsBlock():
		t.logger.Error().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit exhausted - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remain).
			Msg("Rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// Wait gates a request to host. It returns ErrRateLimited when the budget is
// exhausted, pauses for ThrottleDelay when it is low, and returns the
// context error if ctx ends during the pause.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}

	if state.NeedsBlock() {
		wait := state.TimeUntilReset()
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Rate limit exhausted - blocking request")
		rateLimitBlocksTotal.WithLabelValues(host).Inc()
		return fmt.Errorf("%w for %s (resets in %s)", ErrRateLimited, host, wait.Round(time.Second))
	}

	if state.NeedsThrottling() {
		t.logger.Debug().
			Str("host", host).
			Int("remaining", state.Remaining).
			Msg("Rate limit low - throttling request")
		rateLimitThrottlesTotal.WithLabelValues(host).Inc()

		timer := time.NewTimer(ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}
