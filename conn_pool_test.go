package restcore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolAcquireWithinLimit(t *testing.T) {
	pool := NewConnectionPool(3, nil)
	ctx := context.Background()

	var handles []*PoolHandle
	for i := 0; i < 3; i++ {
		h, err := pool.Acquire(ctx, "example.com")
		if err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
		handles = append(handles, h)
	}

	if got := pool.InUse("example.com"); got != 3 {
		t.Errorf("InUse() = %d, want 3", got)
	}

	for _, h := range handles {
		h.Release()
	}
	if got := pool.InUse("example.com"); got != 0 {
		t.Errorf("InUse() after release = %d, want 0", got)
	}
}

func TestPoolAcquireBlocksAtLimit(t *testing.T) {
	pool := NewConnectionPool(1, nil)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, "example.com")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := pool.Acquire(ctx, "example.com")
		if err != nil {
			t.Errorf("blocked Acquire() error = %v", err)
			return
		}
		h2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire() completed while the slot was held")
	case <-time.After(30 * time.Millisecond):
	}

	h.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire() never completed after release")
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool := NewConnectionPool(1, nil)

	h, err := pool.Acquire(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, "example.com")
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Acquire() on full pool error = %v, want ErrPoolExhausted", err)
	}

	if got := pool.InUse("example.com"); got != 1 {
		t.Errorf("InUse() after failed acquire = %d, want 1", got)
	}
}

func TestPoolHostsIsolated(t *testing.T) {
	pool := NewConnectionPool(1, nil)
	ctx := context.Background()

	h1, err := pool.Acquire(ctx, "a.example.com")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer h1.Release()

	// A saturated host must not block a different host.
	h2, err := pool.Acquire(ctx, "b.example.com")
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	h2.Release()
}

func TestPoolReleaseIdempotent(t *testing.T) {
	pool := NewConnectionPool(2, nil)
	ctx := context.Background()

	h, err := pool.Acquire(ctx, "example.com")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h.Release()
	h.Release()
	h.Release()

	if got := pool.InUse("example.com"); got != 0 {
		t.Errorf("InUse() after repeated release = %d, want 0", got)
	}

	// The pool still works at full capacity afterwards.
	for i := 0; i < 2; i++ {
		h, err := pool.Acquire(ctx, "example.com")
		if err != nil {
			t.Fatalf("Acquire() after releases error = %v", err)
		}
		defer h.Release()
	}
}

func TestPoolConcurrencyBound(t *testing.T) {
	const limit = 4
	pool := NewConnectionPool(limit, nil)
	ctx := context.Background()

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := pool.Acquire(ctx, "example.com")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			h.Release()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > limit {
		t.Errorf("peak concurrent holders = %d, want at most %d", got, limit)
	}
}

func TestPoolDefaultsInvalidLimit(t *testing.T) {
	pool := NewConnectionPool(0, nil)
	if got := pool.MaxPerHost(); got != 1 {
		t.Errorf("MaxPerHost() = %d, want 1", got)
	}
}
