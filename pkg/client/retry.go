package client

import (
	"math/rand"
	"time"

	"github.com/andyfriends/vrequest/pkg/config"
)

// RetryPolicy decides how long each attempt may take and whether a failed
// attempt is retried. Policies are stateful and belong to one request.
type RetryPolicy interface {
	// CurrentTimeout is the timeout of the next attempt.
	CurrentTimeout() time.Duration

	// CurrentRetryCount is the number of retries made so far.
	CurrentRetryCount() int

	// Retry prepares the next attempt after err. It returns err when no
	// attempts remain.
	Retry(err error) error
}

// BackoffPolicy is a RetryPolicy that pauses between attempts.
type BackoffPolicy interface {
	RetryPolicy

	// Backoff is the pause before the attempt prepared by the last Retry.
	Backoff() time.Duration
}

// DefaultRetryPolicy retries immediately and grows the attempt timeout by
// timeout*multiplier on every retry.
type DefaultRetryPolicy struct {
	currentTimeout    time.Duration
	retryCount        int
	maxRetries        int
	backoffMultiplier float64
}

// NewDefaultRetryPolicy returns a policy with the engine defaults:
// 2500ms timeout, 1 retry, multiplier 1.0.
func NewDefaultRetryPolicy() *DefaultRetryPolicy {
	return NewRetryPolicy(config.DefaultTimeout, config.DefaultMaxRetries, config.DefaultBackoffMultiplier)
}

// NewRetryPolicy returns a DefaultRetryPolicy with custom parameters.
func NewRetryPolicy(timeout time.Duration, maxRetries int, backoffMultiplier float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		currentTimeout:    timeout,
		maxRetries:        maxRetries,
		backoffMultiplier: backoffMultiplier,
	}
}

// RetryPolicyFromConfig returns a fresh DefaultRetryPolicy from configuration.
func RetryPolicyFromConfig(cfg config.RetryConfig) *DefaultRetryPolicy {
	return NewRetryPolicy(cfg.Timeout, cfg.MaxRetries, cfg.BackoffMultiplier)
}

func (p *DefaultRetryPolicy) CurrentTimeout() time.Duration { return p.currentTimeout }

func (p *DefaultRetryPolicy) CurrentRetryCount() int { return p.retryCount }

// MaxRetries is the number of retries allowed after the first attempt.
func (p *DefaultRetryPolicy) MaxRetries() int { return p.maxRetries }

// BackoffMultiplier is the timeout growth factor.
func (p *DefaultRetryPolicy) BackoffMultiplier() float64 { return p.backoffMultiplier }

// Retry implements RetryPolicy.
func (p *DefaultRetryPolicy) Retry(err error) error {
	p.retryCount++
	p.currentTimeout += time.Duration(float64(p.currentTimeout) * p.backoffMultiplier)
	if p.retryCount > p.maxRetries {
		return err
	}
	return nil
}

// RetryConfig holds the configuration of a BackoffRetryPolicy.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// Timeout bounds every attempt.
	Timeout time.Duration

	// InitialBackoff is the pause before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the pause.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default backoff configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Timeout:           10 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns a backoff configuration tuned for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	cfg := DefaultRetryConfig()
	switch errorClass {
	case ErrorClassServer:
		cfg.MaxBackoff = 10 * time.Second
	case ErrorClassRateLimit:
		cfg.InitialBackoff = 5 * time.Second
		cfg.MaxBackoff = 60 * time.Second
	case ErrorClassNetwork, ErrorClassTimeout:
		cfg.InitialBackoff = 2 * time.Second
	}
	return cfg
}

// BackoffRetryPolicy pauses with jittered exponential backoff between
// attempts and keeps the attempt timeout constant.
type BackoffRetryPolicy struct {
	config  RetryConfig
	retries int
	backoff time.Duration
	next    time.Duration
}

// NewBackoffRetryPolicy creates a BackoffRetryPolicy.
func NewBackoffRetryPolicy(cfg RetryConfig) *BackoffRetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return &BackoffRetryPolicy{
		config: cfg,
		next:   cfg.InitialBackoff,
	}
}

func (p *BackoffRetryPolicy) CurrentTimeout() time.Duration { return p.config.Timeout }

func (p *BackoffRetryPolicy) CurrentRetryCount() int { return p.retries }

func (p *BackoffRetryPolicy) Backoff() time.Duration { return p.backoff }

// Retry implements RetryPolicy.
func (p *BackoffRetryPolicy) Retry(err error) error {
	if p.retries+1 >= p.config.MaxAttempts {
		return err
	}
	p.retries++

	// Jitter of ±20% keeps retries of many requests from lining up.
	p.backoff = time.Duration(float64(p.next) * (0.8 + rand.Float64()*0.4))

	p.next = time.Duration(float64(p.next) * p.config.BackoffMultiplier)
	if p.config.MaxBackoff > 0 && p.next > p.config.MaxBackoff {
		p.next = p.config.MaxBackoff
	}
	return nil
}
