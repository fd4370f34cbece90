package restcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterStartsFull(t *testing.T) {
	rl := NewRateLimiter(5, 1)

	if got := rl.Tokens(); got != 5 {
		t.Errorf("Tokens() = %g, want 5", got)
	}

	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Errorf("Allow() call %d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() on empty bucket = true, want false")
	}
}

func TestRateLimiterAcquireFastPath(t *testing.T) {
	rl := NewRateLimiter(3, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("3 acquisitions from a full bucket took %v, want immediate", elapsed)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(10, 10)

	now := time.Now()
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := rl.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if got := rl.Tokens(); got != 0 {
		t.Fatalf("Tokens() after drain = %g, want 0", got)
	}

	// 500ms at 10 tokens/s accrues 5 tokens.
	now = now.Add(500 * time.Millisecond)
	if got := rl.Tokens(); got < 4.99 || got > 5.01 {
		t.Errorf("Tokens() after 500ms = %g, want 5", got)
	}

	// Refill never exceeds capacity.
	now = now.Add(time.Hour)
	if got := rl.Tokens(); got != 10 {
		t.Errorf("Tokens() after long idle = %g, want capacity 10", got)
	}
}

func TestRateLimiterAcquireBlocksUntilRefill(t *testing.T) {
	rl := NewRateLimiter(1, 20) // one token per 50ms
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	start := time.Now()
	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 30*time.Millisecond {
		t.Errorf("second Acquire() returned after %v, want a wait near 50ms", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("second Acquire() took %v, want well under 500ms", elapsed)
	}
}

func TestRateLimiterAcquireTimeoutConsumesNothing(t *testing.T) {
	rl := NewRateLimiter(1, 0.1)
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := rl.Acquire(timeoutCtx, 1)
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrRateLimitTimeout", err)
	}

	// The abandoned waiter must not have consumed or reserved tokens.
	rl.mu.Lock()
	waiters := len(rl.waiters)
	rl.mu.Unlock()
	if waiters != 0 {
		t.Errorf("waiter queue length after timeout = %d, want 0", waiters)
	}
	if got := rl.Tokens(); got < 0 {
		t.Errorf("Tokens() after timeout = %g, want non-negative", got)
	}
}

func TestRateLimiterFIFOOrder(t *testing.T) {
	rl := NewRateLimiter(1, 50) // one token per 20ms
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := rl.Acquire(ctx, 1); err != nil {
				t.Errorf("waiter %d Acquire() error = %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// Stagger arrivals so queue order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(order) != 4 {
		t.Fatalf("completed waiters = %d, want 4", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("completion order = %v, want [0 1 2 3]", order)
		}
	}
}

func TestRateLimiterAllowNeverJumpsQueue(t *testing.T) {
	rl := NewRateLimiter(1, 5)
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rl.Acquire(ctx, 1); err != nil {
			t.Errorf("blocked Acquire() error = %v", err)
		}
	}()

	// Give the waiter time to enqueue, then verify Allow defers to it.
	time.Sleep(20 * time.Millisecond)
	if rl.Allow() {
		t.Error("Allow() = true while a waiter is queued, want false")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked waiter never completed")
	}
}

func TestRateLimiterConcurrentAcquireBounded(t *testing.T) {
	const capacity = 10
	rl := NewRateLimiter(capacity, 0)

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			if err := rl.Acquire(ctx, 1); err == nil {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	if granted != capacity {
		t.Errorf("granted = %d, want exactly %d with no refill", granted, capacity)
	}
}

func TestRateLimiterCostExceedsCapacity(t *testing.T) {
	rl := NewRateLimiter(2, 1)

	err := rl.Acquire(context.Background(), 3)
	if err == nil {
		t.Fatal("Acquire(cost > capacity) error = nil, want error")
	}
}

func TestRateLimiterZeroCost(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	if err := rl.Acquire(context.Background(), 0); err != nil {
		t.Errorf("Acquire(0) error = %v, want nil", err)
	}
	if got := rl.Tokens(); got != 1 {
		t.Errorf("Tokens() after zero-cost acquire = %g, want 1", got)
	}
}

func TestRateLimiterRegistry(t *testing.T) {
	fallback := NewRateLimiter(100, 100)
	registry := NewRateLimiterRegistry(DefaultHostKeyFunc, fallback)

	hostLimiter := NewRateLimiter(1, 1)
	registry.RegisterLimiter("host:api.example.com", hostLimiter)

	limiter, key := registry.GetLimiter(&Request{URL: "https://api.example.com/v1/users"})
	if limiter != Limiter(hostLimiter) {
		t.Error("GetLimiter() did not return the registered host limiter")
	}
	if key != "host:api.example.com" {
		t.Errorf("key = %q, want %q", key, "host:api.example.com")
	}

	limiter, key = registry.GetLimiter(&Request{URL: "https://other.example.com/"})
	if limiter != Limiter(fallback) {
		t.Error("GetLimiter() for unregistered host did not return the fallback")
	}
	if key != "default" {
		t.Errorf("fallback key = %q, want %q", key, "default")
	}
}

func TestDefaultHostKeyFunc(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.example.com/path", "host:api.example.com"},
		{"http://localhost:8080/", "host:localhost:8080"},
		{"not a url", "host:unknown"},
	}

	for _, tt := range tests {
		if got := DefaultHostKeyFunc(&Request{URL: tt.url}); got != tt.want {
			t.Errorf("DefaultHostKeyFunc(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
