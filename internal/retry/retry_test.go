package retry_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/retry"
)

func TestDecide(t *testing.T) {
	tests := map[string]struct {
		retryCount  int
		maxRetries  int
		policy      model.RetryPolicy
		expDecision retry.Decision
	}{
		"A fixed policy should always wait the same delay": {
			retryCount: 2,
			maxRetries: 5,
			policy: model.RetryPolicy{
				Strategy: model.RetryStrategyFixed,
				Delay:    500 * time.Millisecond,
			},
			expDecision: retry.Decision{Retry: true, Delay: 500 * time.Millisecond},
		},

		"The first retry of the default policy should wait the base delay": {
			retryCount:  0,
			maxRetries:  3,
			policy:      model.DefaultRetryPolicy(),
			expDecision: retry.Decision{Retry: true, Delay: time.Second},
		},

		"Exponential delays should double on every consumed retry": {
			retryCount:  2,
			maxRetries:  5,
			policy:      model.DefaultRetryPolicy(),
			expDecision: retry.Decision{Retry: true, Delay: 4 * time.Second},
		},

		"Reaching max retries should deny the retry": {
			retryCount:  3,
			maxRetries:  3,
			policy:      model.DefaultRetryPolicy(),
			expDecision: retry.Decision{},
		},

		"Zero max retries should never grant a retry": {
			retryCount:  0,
			maxRetries:  0,
			policy:      model.DefaultRetryPolicy(),
			expDecision: retry.Decision{},
		},

		"Jitter should be added on top of the computed delay": {
			retryCount: 1,
			maxRetries: 5,
			policy: model.RetryPolicy{
				Strategy:   model.RetryStrategyExponential,
				Base:       time.Second,
				Multiplier: 2,
				MaxDelay:   30 * time.Second,
				Jitter:     250 * time.Millisecond,
			},
			expDecision: retry.Decision{Retry: true, Delay: 2*time.Second + 250*time.Millisecond},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got := retry.Decide(test.retryCount, test.maxRetries, test.policy)

			assert.Equal(test.expDecision, got)
		})
	}
}

func TestDelayForSchedule(t *testing.T) {
	// The default schedule is part of the contract: callers assert exact
	// delays against it.
	policy := model.RetryPolicy{
		Strategy:   model.RetryStrategyExponential,
		Base:       time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}

	exp := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // Capped, 32s uncapped.
		30 * time.Second,
	}

	for attempt := 1; attempt <= len(exp); attempt++ {
		assert.Equal(t, exp[attempt-1], retry.DelayFor(attempt, policy), "attempt %d", attempt)
	}
}

func TestDelayForEdges(t *testing.T) {
	tests := map[string]struct {
		attempt  int
		policy   model.RetryPolicy
		expDelay time.Duration
	}{
		"Attempts below one should be treated as the first attempt": {
			attempt:  0,
			policy:   model.DefaultRetryPolicy(),
			expDelay: time.Second,
		},

		"An uncapped policy should saturate instead of overflowing on huge attempts": {
			attempt: 500,
			policy: model.RetryPolicy{
				Strategy:   model.RetryStrategyExponential,
				Base:       time.Second,
				Multiplier: 2,
			},
			expDelay: time.Duration(math.MaxInt64),
		},

		"A fixed policy should ignore the attempt number": {
			attempt: 42,
			policy: model.RetryPolicy{
				Strategy: model.RetryStrategyFixed,
				Delay:    3 * time.Second,
			},
			expDelay: 3 * time.Second,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got := retry.DelayFor(test.attempt, test.policy)

			assert.Equal(test.expDelay, got)
			assert.GreaterOrEqual(got, time.Duration(0))
		})
	}
}
