// Package client performs HTTP requests for the request queue with
// per-attempt timeouts, retry policies, response caching and rate limiting.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andyfriends/vrequest/pkg/cache"
	"github.com/andyfriends/vrequest/pkg/config"
	"github.com/andyfriends/vrequest/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries a per-request identifier, stable across retries.
const RequestIDHeader = "X-Request-ID"

// Request describes one network call.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	ContentType string

	// Cache enables the response cache for GET requests.
	Cache bool
}

// Response is a fully read network response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// NotModified is set when the server answered 304 and Body comes from cache.
	NotModified bool

	// Cached is set when the response was served from cache without a network call.
	Cached bool

	// NetworkTime is the time spent on the network including retries.
	NetworkTime time.Duration
}

// Client performs requests against arbitrary hosts.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis backs the cache and the rate limit state. Required when either is enabled.
	Redis *redis.Client

	// UserAgent is sent on every request.
	UserAgent string

	EnableCache     bool
	EnableRateLimit bool
}

// DefaultConfig returns a configuration without cache and rate limiting.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
	}
}

// ConfigFrom derives the client configuration from the application configuration.
func ConfigFrom(cfg config.Config, redisClient *redis.Client) Config {
	return Config{
		Redis:           redisClient,
		UserAgent:       cfg.UserAgent,
		EnableCache:     cfg.Cache.Enabled,
		EnableRateLimit: cfg.RateLimit.Enabled,
	}
}

// New creates a new client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if (cfg.EnableCache || cfg.EnableRateLimit) && cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required when cache or rate limiting is enabled")
	}

	c := &Client{
		// Attempts are bounded by the retry policy timeout.
		httpClient: &http.Client{},
		config:     cfg,
		logger:     logger,
	}

	if cfg.EnableCache {
		c.cache = cache.NewManager(cfg.Redis)
	}
	if cfg.EnableRateLimit {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return c, nil
}

// Perform executes req under policy. A nil policy uses NewDefaultRetryPolicy.
// Non-2xx responses are returned as *Error; an exhausted policy returns an
// error wrapping both ErrRetryExhausted and the last *Error.
func (c *Client) Perform(ctx context.Context, req *Request, policy RetryPolicy) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if policy == nil {
		policy = NewDefaultRetryPolicy()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &Error{
			Class:   ErrorClassClient,
			Message: fmt.Sprintf("invalid url %q", req.URL),
			Err:     err,
		}
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	// Step 1: cache lookup
	var (
		cacheKey cache.Key
		cached   *cache.Entry
	)
	cacheable := c.cache != nil && req.Cache && method == http.MethodGet
	if cacheable {
		cacheKey, err = cache.NewKey(method, req.URL)
		if err != nil {
			cacheable = false
		} else {
			cached, err = c.cache.Get(ctx, cacheKey)
			if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
				c.logger.Warn().Err(err).Str("url", req.URL).Msg("Cache get error")
			}
			if cached != nil && !cached.IsExpired() {
				requestsTotal.WithLabelValues(method, "cache").Inc()
				return entryResponse(cached, false, time.Since(start)), nil
			}
		}
	}

	requestID := uuid.NewString()

	for attempt := 1; ; attempt++ {
		// Step 2: rate limit gate
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx, target.Host); err != nil {
				if errors.Is(err, ratelimit.ErrRateLimited) {
					requestsTotal.WithLabelValues(method, "rate_limited").Inc()
					errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
					return nil, &Error{
						Class:   ErrorClassRateLimit,
						Message: "request blocked by rate limiter",
						Err:     err,
					}
				}
				if ctx.Err() != nil {
					return nil, c.contextError(ctx, err)
				}
				c.logger.Warn().Err(err).Str("host", target.Host).Msg("Rate limit check failed")
			}
		}

		// Step 3: execute
		c.logger.Debug().
			Str("url", req.URL).
			Str("method", method).
			Int("attempt", attempt).
			Dur("timeout", policy.CurrentTimeout()).
			Msg("Executing request")

		resp, e := c.execute(ctx, method, req, requestID, cached, policy.CurrentTimeout())
		if e == nil {
			if c.rateLimiter != nil {
				if err := c.rateLimiter.UpdateFromHeaders(ctx, target.Host, resp.Header); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
				}
			}

			requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

			// Step 4: 304 revalidation
			if resp.StatusCode == http.StatusNotModified && cached != nil {
				c.logger.Debug().Str("url", req.URL).Msg("304 Not Modified, using cache")
				if expires, ok := cache.Expiry(resp.Header, time.Now()); ok {
					if err := c.cache.Refresh(ctx, cacheKey, expires); err != nil {
						c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
					}
				}
				return entryResponse(cached, true, time.Since(start)), nil
			}

			e = c.statusError(resp)
			if e == nil {
				// Step 5: store
				if cacheable {
					c.store(ctx, cacheKey, resp)
				}
				resp.NetworkTime = time.Since(start)
				return resp, nil
			}
		} else if e.Class == ErrorClassCancelled {
			errorsTotal.WithLabelValues(string(e.Class)).Inc()
			return nil, e
		} else {
			requestsTotal.WithLabelValues(method, string(e.Class)).Inc()
		}

		errorsTotal.WithLabelValues(string(e.Class)).Inc()

		if !shouldRetry(e.Class) {
			return nil, e
		}

		if err := policy.Retry(e); err != nil {
			retryExhaustedTotal.WithLabelValues(string(e.Class)).Inc()
			c.logger.Error().
				Str("url", req.URL).
				Str("error_class", string(e.Class)).
				Int("attempt", attempt).
				Msg("Retry attempts exhausted")
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, e)
		}

		retriesTotal.WithLabelValues(string(e.Class)).Inc()
		c.logger.Warn().
			Str("url", req.URL).
			Str("error_class", string(e.Class)).
			Int("attempt", attempt).
			Msg("Retrying request")

		if bp, ok := policy.(BackoffPolicy); ok {
			backoff := bp.Backoff()
			retryBackoffSeconds.WithLabelValues(string(e.Class)).Observe(backoff.Seconds())
			if err := sleep(ctx, backoff); err != nil {
				return nil, c.contextError(ctx, err)
			}
		}
	}
}

// execute runs a single attempt and reads the whole body.
func (c *Client) execute(ctx context.Context, method string, req *Request, requestID string, cached *cache.Entry, timeout time.Duration) (*Response, *Error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, &Error{
			Class:   ErrorClassClient,
			Message: "create request",
			Err:     err,
		}
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set(RequestIDHeader, requestID)
	if req.Body != nil && req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if cached != nil {
		cache.AddConditionalHeaders(httpReq.Header, cached)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// transportError classifies a failure without a response.
func (c *Client) transportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return c.contextError(ctx, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Class:   ErrorClassTimeout,
			Message: "attempt timed out",
			Err:     err,
		}
	}

	return &Error{
		Class:   ErrorClassNetwork,
		Message: "request failed",
		Err:     err,
	}
}

func (c *Client) contextError(ctx context.Context, err error) *Error {
	cause := ctx.Err()
	if cause == nil {
		cause = err
	}
	return &Error{
		Class:   ErrorClassCancelled,
		Message: "request cancelled",
		Err:     fmt.Errorf("%w: %w", ErrContextCancelled, cause),
	}
}

// statusError returns an *Error for non-2xx responses.
func (c *Client) statusError(resp *Response) *Error {
	class := classifyStatus(resp.StatusCode)
	if class == "" {
		return nil
	}

	c.logger.Warn().
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Request error")

	return &Error{
		StatusCode: resp.StatusCode,
		Class:      class,
		Message:    http.StatusText(resp.StatusCode),
		Body:       resp.Body,
		Header:     resp.Header,
	}
}

func (c *Client) store(ctx context.Context, key cache.Key, resp *Response) {
	entry, ok := cache.NewEntry(resp.StatusCode, resp.Header, resp.Body)
	if !ok {
		return
	}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Cached response")
}

func entryResponse(entry *cache.Entry, notModified bool, elapsed time.Duration) *Response {
	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{
		StatusCode:  status,
		Header:      entry.Headers.Clone(),
		Body:        entry.Data,
		NotModified: notModified,
		Cached:      !notModified,
		NetworkTime: elapsed,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get performs a cacheable GET with the default retry policy.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Perform(ctx, &Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Cache:  true,
	}, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}
