// Package ratelimit tracks DRF throttle windows announced by 429 responses
// and gates outgoing requests until the window has passed.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Bounds for throttle windows taken from Retry-After.
const (
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 1 * time.Second

	// MaxRetryAfter caps a single window so a bad header cannot stall a
	// client indefinitely.
	MaxRetryAfter = 5 * time.Minute
)

// State is the current throttle state of a backend.
type State struct {
	// BlockedUntil is when requests may resume. Zero when not throttled.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when the state last changed.
	LastUpdate time.Time `json:"last_update"`

	// Hits is the number of 429 responses seen since the last clear window.
	Hits int `json:"hits"`
}

// IsThrottled reports whether requests should currently wait.
func (s *State) IsThrottled(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilReset returns how long until requests may resume.
// Returns 0 if the window has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter parses a Retry-After header value, which is either a
// number of seconds or an HTTP date. Missing or invalid values yield
// DefaultRetryAfter; results are clamped to [0, MaxRetryAfter].
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return DefaultRetryAfter
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultRetryAfter
	}

	switch {
	case d < 0:
		return 0
	case d > MaxRetryAfter:
		return MaxRetryAfter
	default:
		return d
	}
}
