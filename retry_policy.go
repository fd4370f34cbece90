package restcore

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	internalbackoff "github.com/danurahadian/restcore/internal/backoff"
)

// RetryContext is the per-decision snapshot handed to a RetryPolicy. It is
// created fresh for every completed attempt and discarded afterwards.
type RetryContext struct {
	// Attempt is the number of attempts performed so far (1 after the first).
	Attempt int
	// Class is the failure classification of the last attempt.
	Class FailureClass
	// StatusCode is the last HTTP status, or 0 if no response was received.
	StatusCode int
	// Elapsed is wall-clock time since the logical request started.
	Elapsed time.Duration
	// Deadline is the logical request deadline; zero means none.
	Deadline time.Time
	// Method is the HTTP method of the request.
	Method string
	// Idempotent reflects the caller's flag or the method's own semantics.
	Idempotent bool
	// ServerContacted is false only when the failure is guaranteed to have
	// occurred before any request bytes reached the server (e.g. connection
	// refused).
	ServerContacted bool
	// RetryAfter carries a parsed Retry-After hint from the response, if any.
	RetryAfter time.Duration
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. Implementations must be pure decision functions: no shared
// state, no retrying of their own.
type RetryPolicy interface {
	ShouldRetry(rc RetryContext) (time.Duration, bool)
}

// BackoffStrategy selects the delay distribution used by DefaultRetryPolicy.
type BackoffStrategy int

const (
	// ExponentialJitter is min(base·2^attempt, cap) scaled by a uniform
	// factor centered on 1 (the default).
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter is AWS-style decorrelated jitter.
	DecorrelatedJitter
)

// DefaultRetryPolicy retries transient failures with exponential backoff and
// jitter, bounded by a maximum attempt count and the request deadline.
//
// Non-idempotent methods are retried only for failures guaranteed not to have
// mutated server state (no bytes sent), unless RetryNonIdempotent is set. A
// response that was received and classified transient (e.g. 503) is retried
// for all methods: the assumption is that the server did not complete a side
// effect while answering with an error. That assumption is policy, not a
// guarantee; disable it per request via the Idempotent flag semantics if the
// target API does not hold it.
type DefaultRetryPolicy struct {
	maxAttempts       int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	backoffCalculator *internalbackoff.Calculator
	isIdempotent      func(method string) bool

	// RetryNonIdempotent permits retrying non-idempotent methods after
	// ambiguous network failures (timeout or reset after bytes were sent).
	RetryNonIdempotent bool
}

// NewDefaultRetryPolicy creates the standard policy: exponential backoff with
// centered jitter, transient-only, deadline-aware.
func NewDefaultRetryPolicy(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxAttempts, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a policy with a specific backoff
// strategy.
func NewDefaultRetryPolicyWithStrategy(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := &DefaultRetryPolicy{
		maxAttempts:       maxAttempts,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		backoffStrategy:   strategy,
		isIdempotent:      DefaultIsIdempotent,
	}

	switch strategy {
	case DecorrelatedJitter:
		policy.backoffCalculator = internalbackoff.GetDecorrelatedJitterCalculator()
	default:
		policy.backoffCalculator = internalbackoff.GetExponentialJitterCalculator()
	}

	return policy
}

// MaxAttempts returns the attempt bound enforced by this policy.
func (p *DefaultRetryPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry implements RetryPolicy.
func (p *DefaultRetryPolicy) ShouldRetry(rc RetryContext) (time.Duration, bool) {
	if rc.Class != ClassTransient {
		return 0, false
	}
	if rc.Attempt >= p.maxAttempts {
		return 0, false
	}

	idempotent := rc.Idempotent || p.isIdempotent(rc.Method)
	if !idempotent && !p.RetryNonIdempotent {
		// A failure after bytes were sent but before any response is
		// ambiguous: the server may have applied the mutation.
		if rc.ServerContacted && rc.StatusCode == 0 {
			return 0, false
		}
	}

	delay := rc.RetryAfter
	if delay <= 0 {
		delay = p.backoffCalculator.Calculate(rc.Attempt-1, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter)
	}

	// Stop early when the projected next attempt cannot start before the
	// deadline.
	if !rc.Deadline.IsZero() && time.Now().Add(delay).After(rc.Deadline) {
		return 0, false
	}

	return delay, true
}

// ParseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date formats. Values are capped at one hour; an
// unparseable or absent value yields zero.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
