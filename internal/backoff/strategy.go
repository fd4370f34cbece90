package backoff

import (
	"math/rand"
	"time"
)

// Strategy is a backoff calculation algorithm. Implementations must be
// stateless and safe for concurrent use.
type Strategy interface {
	// Calculate returns the delay before the attempt following the given
	// zero-based attempt number.
	Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy grows the delay geometrically, caps it at
// maxBackoff, then scales it by a uniform random factor centered on 1. With
// jitter=1 the factor ranges over [0.5, 1.5).
type ExponentialJitterStrategy struct{}

// Calculate implements Strategy.
func (s ExponentialJitterStrategy) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent to avoid overflow.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initialBackoff) * pow(multiplier, attempt))
	if delay < 0 || delay > maxBackoff {
		delay = maxBackoff
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		factor := 1 - jitter/2 + jitter*rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < 0 {
		delay = maxBackoff
	}
	return delay
}

// DecorrelatedJitterStrategy implements AWS-style decorrelated jitter:
// random_between(base, min(cap, base * 3^attempt)). It spreads concurrent
// retriers more evenly than centered jitter at the cost of a wider range.
type DecorrelatedJitterStrategy struct{}

// Calculate implements Strategy.
func (s DecorrelatedJitterStrategy) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return initialBackoff
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initialBackoff)
	upper := base * pow(3.0, attempt)

	maxBackoffFloat := float64(maxBackoff)
	if upper > maxBackoffFloat || upper < 0 {
		upper = maxBackoffFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// Pow exposes integer exponentiation for callers that pre-compute bounds.
func Pow(base float64, exponent int) float64 {
	return pow(base, exponent)
}
