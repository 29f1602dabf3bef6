package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	throttleActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drf_throttle_active",
		Help: "1 while the backend throttle window is active",
	})

	throttleHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drf_throttle_hits_total",
		Help: "Total number of 429 responses received",
	})

	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drf_throttle_wait_seconds",
		Help:    "Time requests spent waiting for a throttle window",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Tracker records throttle windows and gates requests.
// It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	state  State
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new throttle tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		now:    time.Now,
	}
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Throttled reports whether a throttle window is currently active.
func (t *Tracker) Throttled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsThrottled(t.now())
}

// UpdateFromResponse records a throttle window when status is 429.
// Other statuses are ignored.
func (t *Tracker) UpdateFromResponse(status int, headers http.Header) {
	if status != http.StatusTooManyRequests {
		return
	}

	now := t.now()
	wait := ParseRetryAfter(headers, now)

	t.mu.Lock()
	until := now.Add(wait)
	if until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	t.state.Hits++
	t.state.LastUpdate = now
	hits := t.state.Hits
	t.mu.Unlock()

	throttleHitsTotal.Inc()
	throttleActive.Set(1)

	t.logger.Warn().
		Dur("retry_after", wait).
		Int("hits", hits).
		Msg("Backend throttled request")
}

// Wait blocks until the throttle window has passed or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := t.now()
		wait := t.state.TimeUntilReset(now)
		if wait == 0 && t.state.Hits > 0 {
			t.state.Hits = 0
			throttleActive.Set(0)
		}
		t.mu.Unlock()

		if wait == 0 {
			return nil
		}

		t.logger.Debug().Dur("wait", wait).Msg("Waiting for throttle window")

		start := time.Now()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("throttle wait: %w", ctx.Err())
		case <-timer.C:
			throttleWaitSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// Reset clears the throttle state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = State{}
	t.mu.Unlock()
	throttleActive.Set(0)
}
