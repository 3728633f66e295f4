package gateway

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a fixed-budget window limiter for outbound gateway frames.
//
// A window opens on the first event after the budget was full. Once the budget
// is spent, callers wait until the window closes. Acquire holds the mutex for
// the whole wait, so concurrent callers queue behind each other.
type RateLimiter struct {
	mu sync.Mutex

	max    int
	window time.Duration

	remaining   int
	windowStart time.Time

	now func() time.Time
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(maxEvents int, window time.Duration) *RateLimiter {
	if maxEvents <= 0 {
		maxEvents = DefaultRateLimitEvents
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		max:       maxEvents,
		window:    window,
		remaining: maxEvents,
		now:       time.Now,
	}
}

// Delay reports how long an event at time "now" must wait.
// A zero result means the event was admitted and consumed one unit of budget.
func (r *RateLimiter) Delay(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay(now)
}

func (r *RateLimiter) delay(now time.Time) time.Duration {
	if now.After(r.windowStart.Add(r.window)) {
		r.remaining = r.max
	}
	if r.remaining == r.max {
		r.windowStart = now
	}
	if r.remaining == 0 {
		return r.window - now.Sub(r.windowStart)
	}
	r.remaining--
	return 0
}

// Remaining returns the unspent budget of the current window.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// Acquire returns immediately while budget remains. Otherwise it sleeps until
// the current window closes and returns without consuming budget.
// It fails only when ctx is done first.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.delay(r.now())
	if d <= 0 {
		return nil
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
