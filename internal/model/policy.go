package model

import (
	"fmt"
	"time"
)

// RetryStrategy selects how retry delays grow between attempts.
type RetryStrategy string

const (
	// RetryStrategyFixed waits the same delay before every attempt.
	RetryStrategyFixed RetryStrategy = "fixed"
	// RetryStrategyExponential multiplies the delay on every attempt, capped.
	RetryStrategyExponential RetryStrategy = "exponential"
)

// RetryPolicy describes how failures are retried. Delay computation is
// deterministic: same inputs, same delays. Jitter is an explicit additive
// term, never hidden randomness, so schedules stay assertable.
type RetryPolicy struct {
	Strategy RetryStrategy

	// Delay is the constant wait for the fixed strategy.
	Delay time.Duration

	// Base, Multiplier and MaxDelay configure the exponential strategy:
	// delay(n) = min(Base*Multiplier^(n-1), MaxDelay) for attempt n.
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	// Jitter is added to every computed delay.
	Jitter time.Duration
}

// DefaultRetryPolicy returns the default policy: exponential backoff with
// 1s base, doubling, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:   RetryStrategyExponential,
		Base:       time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}
}

// Validate validates the retry policy.
func (p *RetryPolicy) Validate() error {
	switch p.Strategy {
	case RetryStrategyFixed:
		if p.Delay < 0 {
			return fmt.Errorf("fixed delay must not be negative: %w", ErrNotValid)
		}
	case RetryStrategyExponential:
		if p.Base <= 0 {
			return fmt.Errorf("exponential base must be positive: %w", ErrNotValid)
		}
		if p.Multiplier < 1 {
			return fmt.Errorf("exponential multiplier must be >= 1: %w", ErrNotValid)
		}
		if p.MaxDelay > 0 && p.MaxDelay < p.Base {
			return fmt.Errorf("max delay must be >= base: %w", ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown retry strategy %q: %w", p.Strategy, ErrNotValid)
	}

	if p.Jitter < 0 {
		return fmt.Errorf("jitter must not be negative: %w", ErrNotValid)
	}
	return nil
}
