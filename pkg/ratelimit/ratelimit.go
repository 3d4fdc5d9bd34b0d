// Package ratelimit provides request pacing for the remote data source.
// It enforces two independent constraints: a minimum interval between
// consecutive requests and a rolling-window request quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outbound requests. It is safe for use by multiple
// goroutines sharing one instance. The mutex guards only the counters,
// never a sleep, so Stats stays pollable while callers wait out a
// quota or interval.
type Limiter struct {
	minInterval  time.Duration
	maxPerWindow int
	window       time.Duration

	// Clock hooks, replaceable in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	lastRequest time.Time
	windowStart time.Time
	count       int

	totalRequests int64
	totalWaits    int64
	totalWaitTime time.Duration
}

// Stats provides a point-in-time view of limiter state for monitoring.
type Stats struct {
	RequestsThisWindow int           `json:"requests_this_window"`
	MaxPerWindow       int           `json:"max_per_window"`
	WindowElapsed      time.Duration `json:"window_elapsed"`
	TotalRequests      int64         `json:"total_requests"`
	TotalWaits         int64         `json:"total_waits"`
	AverageWaitTime    time.Duration `json:"average_wait_time"`
}

// New creates a limiter with the given minimum inter-request interval and
// rolling-hour quota.
func New(minInterval time.Duration, maxPerHour int) *Limiter {
	return &Limiter{
		minInterval:  minInterval,
		maxPerWindow: maxPerHour,
		window:       time.Hour,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Wait blocks until the next request is permitted, or until ctx is
// cancelled. Quota exhaustion is not an error: the caller is held until
// the window rolls over. Each iteration computes the required delay
// under the lock, releases it to sleep, then re-checks, so concurrent
// callers race for the freed slot and the counters stay consistent.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		d, granted := l.reserve()
		if granted {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve either claims a request slot (granted=true) or returns how
// long the caller must sleep before trying again.
func (l *Limiter) reserve() (wait time.Duration, granted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() {
		l.windowStart = now
	}
	if now.Sub(l.windowStart) >= l.window {
		l.count = 0
		l.windowStart = now
	}

	// Quota exhausted: hold until the window resets
	if l.count >= l.maxPerWindow {
		if remaining := l.window - now.Sub(l.windowStart); remaining > 0 {
			l.totalWaits++
			l.totalWaitTime += remaining
			return remaining, false
		}
		l.count = 0
		l.windowStart = now
	}

	// Minimum spacing between requests
	if !l.lastRequest.IsZero() {
		if elapsed := now.Sub(l.lastRequest); elapsed < l.minInterval {
			d := l.minInterval - elapsed
			l.totalWaits++
			l.totalWaitTime += d
			return d, false
		}
	}

	l.lastRequest = now
	l.count++
	l.totalRequests++
	return 0, true
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var elapsed time.Duration
	if !l.windowStart.IsZero() {
		elapsed = l.now().Sub(l.windowStart)
	}

	avgWait := time.Duration(0)
	if l.totalWaits > 0 {
		avgWait = l.totalWaitTime / time.Duration(l.totalWaits)
	}

	return Stats{
		RequestsThisWindow: l.count,
		MaxPerWindow:       l.maxPerWindow,
		WindowElapsed:      elapsed,
		TotalRequests:      l.totalRequests,
		TotalWaits:         l.totalWaits,
		AverageWaitTime:    avgWait,
	}
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
