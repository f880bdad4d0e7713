// Package retry computes retry schedules. Everything here is pure: the
// engine never sleeps, never arms timers and never draws randomness, the
// caller owns the waiting.
package retry

import (
	"math"
	"time"

	"github.com/salerhq/optrack/internal/model"
)

const maxDelay = time.Duration(math.MaxInt64)

// Decision is the engine's verdict for a single failure.
type Decision struct {
	// Retry is true when another attempt should run.
	Retry bool
	// Delay is how long to wait before that attempt. Zero when Retry is false.
	Delay time.Duration
}

// Decide returns the verdict after a failed attempt. retryCount is the
// number of retries already consumed, so the attempt being scheduled is
// retryCount+1. No retry is granted once retryCount reaches maxRetries.
func Decide(retryCount, maxRetries int, policy model.RetryPolicy) Decision {
	if retryCount >= maxRetries {
		return Decision{}
	}

	return Decision{Retry: true, Delay: DelayFor(retryCount+1, policy)}
}

// DelayFor returns the wait before the given attempt. Attempts are 1-based,
// values below 1 are treated as the first attempt.
func DelayFor(attempt int, policy model.RetryPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch policy.Strategy {
	case model.RetryStrategyFixed:
		delay = policy.Delay
	case model.RetryStrategyExponential:
		d := float64(policy.Base) * math.Pow(policy.Multiplier, float64(attempt-1))
		switch {
		case policy.MaxDelay > 0 && d > float64(policy.MaxDelay):
			delay = policy.MaxDelay
		case d > float64(maxDelay):
			delay = maxDelay
		default:
			delay = time.Duration(d)
		}
	}

	return delay + policy.Jitter
}
