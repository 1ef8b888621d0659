// Package quota tracks the provider's daily request allowance and gates requests.
// The provider's quota is per API key, so the budget is shared by every run key
// using the same credentials. The budget window is the UTC calendar day.
package quota

import (
	"time"
)

// Redis keys for quota state storage. The day suffix is YYYYMMDD in UTC.
const (
	RedisKeyUsedPrefix     = "collector:quota:used:"
	RedisKeyExhaustedUntil = "collector:quota:exhausted_until"
)

// State represents the current quota state.
type State struct {
	// Used is the number of requests counted in the current window.
	Used int `json:"used"`

	// Budget is the daily allowance. Zero means unlimited.
	Budget int `json:"budget"`

	// ResetAt is the start of the next window.
	ResetAt time.Time `json:"reset_at"`

	// ExhaustedUntil is set when the provider signalled quota exhaustion.
	ExhaustedUntil time.Time `json:"exhausted_until,omitempty"`
}

// Exhausted reports whether requests must not be issued at now.
func (s *State) Exhausted(now time.Time) bool {
	if now.Before(s.ExhaustedUntil) {
		return true
	}
	return s.Budget > 0 && s.Used >= s.Budget
}

// Remaining returns the requests left in the window, or -1 when unlimited.
func (s *State) Remaining() int {
	if s.Budget <= 0 {
		return -1
	}
	if s.Used >= s.Budget {
		return 0
	}
	return s.Budget - s.Used
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// NextReset returns the start of the UTC day following now.
func NextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func dayKey(now time.Time) string {
	return RedisKeyUsedPrefix + now.UTC().Format("20060102")
}
