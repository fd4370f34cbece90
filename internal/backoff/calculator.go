package backoff

import (
	"time"
)

// Calculator binds a Strategy to a reusable handle so callers don't carry the
// strategy choice through every call site.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a calculator with the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the backoff duration for the given attempt and parameters.
func (c *Calculator) Calculate(attempt int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, initialBackoff, maxBackoff, multiplier, jitter)
}

// GetExponentialJitterCalculator returns a calculator using centered
// exponential jitter, the default policy behavior.
func GetExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// GetDecorrelatedJitterCalculator returns a calculator using AWS-style
// decorrelated jitter.
func GetDecorrelatedJitterCalculator() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
