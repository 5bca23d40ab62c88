// Package ratelimit tracks per-host request budgets announced by servers in
// X-RateLimit-Remaining and X-RateLimit-Reset headers and gates requests
// before the budget runs out. State lives in Redis so every process that
// shares the Redis instance shares the budget.
package ratelimit

import (
	"time"
)

// Response headers read by the tracker.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for rate limit decisions.
const (
	// RemainingCritical blocks requests when fewer requests than this remain.
	RemainingCritical = 2

	// RemainingWarning delays requests when fewer requests than this remain.
	RemainingWarning = 10

	// RemainingHealthy marks the budget as healthy.
	RemainingHealthy = 50
)

// State is the last known request budget of a host.
type State struct {
	Host string `json:"host"`

	// Remaining is the value of the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// ResetAt is when the budget is replenished.
	ResetAt time.Time `json:"reset_at"`

	LastUpdate time.Time `json:"last_update"`
	IsHealthy  bool      `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsBlock returns true if requests must wait for the reset.
func (s *State) NeedsBlock() bool {
	return s.Remaining < RemainingCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingWarning && !s.NeedsBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the budget resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingHealthy
}
