package restcore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Limiter is the rate-limiting contract consumed by the executor.
type Limiter interface {
	// Acquire blocks until cost tokens are available or ctx is done. On ctx
	// expiry it returns ErrRateLimitTimeout and consumes nothing.
	Acquire(ctx context.Context, cost int) error
	// Allow consumes one token without blocking if immediately available.
	Allow() bool
	// Tokens reports the currently available tokens.
	Tokens() float64
}

// RateLimiter is a token bucket with capacity C refilled at R tokens/second.
// Refill is computed lazily from elapsed time at each acquisition; no
// background timer runs. Blocked acquirers are served strictly first-come
// first-served: a later arrival never consumes tokens while an earlier waiter
// is queued. Safe for concurrent use.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	waiters    []*limiterWaiter

	now func() time.Time // test hook
}

type limiterWaiter struct {
	cost  float64
	ready chan struct{} // closed when this waiter becomes head of queue
	woken bool
}

// NewRateLimiter creates a rate limiter with the given capacity and refill
// rate in tokens per second. The bucket starts full.
func NewRateLimiter(capacity int, refillPerSecond float64) *RateLimiter {
	return &RateLimiter{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillPerSecond,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Acquire implements Limiter. The calling goroutine blocks (cancellably)
// until cost tokens accrue; other goroutines are unaffected.
func (rl *RateLimiter) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	c := float64(cost)

	rl.mu.Lock()
	if c > rl.capacity {
		rl.mu.Unlock()
		return fmt.Errorf("restcore: acquire cost %d exceeds bucket capacity %g", cost, rl.capacity)
	}
	rl.refillLocked(rl.now())
	if len(rl.waiters) == 0 && rl.tokens >= c {
		rl.tokens -= c
		rl.mu.Unlock()
		return nil
	}

	w := &limiterWaiter{cost: c, ready: make(chan struct{})}
	rl.waiters = append(rl.waiters, w)
	if len(rl.waiters) == 1 {
		w.woken = true
		close(w.ready)
	}
	rl.mu.Unlock()

	select {
	case <-ctx.Done():
		rl.abandon(w)
		return ErrRateLimitTimeout
	case <-w.ready:
	}

	// Head of queue: wait out the refill, re-checking after each timer fire.
	for {
		rl.mu.Lock()
		rl.refillLocked(rl.now())
		if rl.tokens >= c {
			rl.tokens -= c
			rl.popHeadLocked()
			rl.mu.Unlock()
			return nil
		}
		delay := rl.durationForLocked(c)
		rl.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			rl.abandon(w)
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

// Allow consumes one token without blocking if one is immediately available.
// It never jumps the queue: while acquirers are waiting, Allow reports false.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(rl.now())
	if len(rl.waiters) == 0 && rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens reports the currently available tokens after a lazy refill.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked(rl.now())
	return rl.tokens
}

// refillLocked credits tokens for time elapsed since the last refill, capped
// at capacity. Caller holds mu.
func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now
	if rl.refillRate <= 0 {
		return
	}
	rl.tokens += elapsed.Seconds() * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}

// durationForLocked estimates how long until cost tokens are available.
// Caller holds mu.
func (rl *RateLimiter) durationForLocked(cost float64) time.Duration {
	missing := cost - rl.tokens
	if missing <= 0 {
		return 0
	}
	if rl.refillRate <= 0 {
		// Never refills; park until cancellation.
		return time.Hour
	}
	return time.Duration(missing / rl.refillRate * float64(time.Second))
}

// popHeadLocked removes the head waiter and wakes the next one. Caller holds
// mu and must be the head waiter.
func (rl *RateLimiter) popHeadLocked() {
	rl.waiters = rl.waiters[1:]
	if len(rl.waiters) > 0 && !rl.waiters[0].woken {
		rl.waiters[0].woken = true
		close(rl.waiters[0].ready)
	}
}

// abandon removes a cancelled waiter from the queue, promoting the next
// waiter if the cancelled one was head.
func (rl *RateLimiter) abandon(w *limiterWaiter) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for i, qw := range rl.waiters {
		if qw == w {
			rl.waiters = append(rl.waiters[:i], rl.waiters[i+1:]...)
			if i == 0 && len(rl.waiters) > 0 && !rl.waiters[0].woken {
				rl.waiters[0].woken = true
				close(rl.waiters[0].ready)
			}
			return
		}
	}
}

// KeyFunc derives a registry key from a request.
type KeyFunc func(req *Request) string

// RateLimiterRegistry routes requests to per-key limiters (typically one
// bucket per target host) with an optional fallback for unregistered keys.
type RateLimiterRegistry struct {
	mutex    sync.RWMutex
	limiters map[string]Limiter
	keyFunc  KeyFunc
	fallback Limiter
}

// NewRateLimiterRegistry creates a registry with the given key function and
// fallback limiter. A nil keyFunc routes everything to the fallback.
func NewRateLimiterRegistry(keyFunc KeyFunc, fallback Limiter) *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]Limiter),
		keyFunc:  keyFunc,
		fallback: fallback,
	}
}

// RegisterLimiter adds a limiter for the given key.
func (r *RateLimiterRegistry) RegisterLimiter(key string, limiter Limiter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.limiters[key] = limiter
}

// GetLimiter returns the limiter for the given request and the key it
// resolved to. Falls back to the default limiter (which may be nil, meaning
// unlimited) when no specific limiter is registered.
func (r *RateLimiterRegistry) GetLimiter(req *Request) (Limiter, string) {
	if r.keyFunc == nil {
		return r.fallback, "default"
	}

	key := r.keyFunc(req)

	r.mutex.RLock()
	limiter, exists := r.limiters[key]
	r.mutex.RUnlock()

	if exists {
		return limiter, key
	}
	if r.fallback != nil {
		return r.fallback, "default"
	}
	return nil, key
}

// DefaultHostKeyFunc keys limiters by the request's target host.
func DefaultHostKeyFunc(req *Request) string {
	if u, err := url.Parse(req.URL); err == nil && u.Host != "" {
		return "host:" + u.Host
	}
	return "host:unknown"
}
