package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_DelayWindow(t *testing.T) {
	t.Parallel()

	const maxEvents = 110
	window := 60 * time.Second
	rl := NewRateLimiter(maxEvents, window)

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < maxEvents; i++ {
		now := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if d := rl.Delay(now); d != 0 {
			t.Fatalf("event %d: expected no delay, got %v", i, d)
		}
	}

	elapsed := 20 * time.Second
	d := rl.Delay(start.Add(elapsed))
	if want := window - elapsed; d != want {
		t.Fatalf("over-budget delay=%v want=%v", d, want)
	}
	if rl.Remaining() != 0 {
		t.Fatalf("a delayed event must not consume budget, remaining=%d", rl.Remaining())
	}

	// After the window closes a new one opens with full budget.
	after := start.Add(window + time.Millisecond)
	for i := 0; i < maxEvents; i++ {
		if d := rl.Delay(after); d != 0 {
			t.Fatalf("new window event %d: expected no delay, got %v", i, d)
		}
	}
	if d := rl.Delay(after.Add(time.Second)); d != window-time.Second {
		t.Fatalf("second window over-budget delay=%v want=%v", d, window-time.Second)
	}
}

func TestRateLimiter_InvalidInputsUseDefaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, -1)
	if rl.max != DefaultRateLimitEvents || rl.window != DefaultRateLimitWindow {
		t.Fatalf("defaults not applied: max=%d window=%v", rl.max, rl.window)
	}
}

func TestRateLimiter_AcquireWaitsForWindow(t *testing.T) {
	t.Parallel()

	window := 150 * time.Millisecond
	rl := NewRateLimiter(3, window)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if time.Since(start) > window/2 {
		t.Fatalf("in-budget acquires should not block")
	}

	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("acquire over budget: %v", err)
	}
	waited := time.Since(start)
	if waited < window-20*time.Millisecond {
		t.Fatalf("over-budget acquire returned after %v, want about %v", waited, window)
	}
	if waited > window+500*time.Millisecond {
		t.Fatalf("over-budget acquire waited too long: %v", waited)
	}

	// The next call lands in a fresh window with full budget.
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("acquire in new window: %v", err)
	}
	if got := rl.Remaining(); got != 2 {
		t.Fatalf("remaining after first event of new window=%d want=2", got)
	}
}

func TestRateLimiter_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Hour)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
