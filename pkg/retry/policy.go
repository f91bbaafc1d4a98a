// Package retry defines the bounded retry policy applied to action failures.
package retry

import "time"

// Policy configures bounded retry with exponential backoff for retryable
// action failures. Terminal failures bypass the policy entirely.
type Policy struct {
	MaxAttempts int           `validate:"min=1"`
	BaseBackoff time.Duration `validate:"min=0"`
	Multiplier  float64       `validate:"min=1"`
	MaxBackoff  time.Duration `validate:"min=0"`
}

// DefaultPolicy matches the engine's shipped configuration: three attempts,
// one minute base backoff doubling per attempt, capped at one hour.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Minute,
		Multiplier:  2,
		MaxBackoff:  time.Hour,
	}
}

// Backoff returns the wait before the next attempt, given the zero-based
// index of the attempt that just failed.
func (p Policy) Backoff(failedAttempt int) time.Duration {
	backoff := p.BaseBackoff

	for range failedAttempt {
		backoff = time.Duration(float64(backoff) * p.Multiplier)

		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}

	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}

	return backoff
}

// Exhausted reports whether the zero-based attempt that just failed was the
// last one the policy allows.
func (p Policy) Exhausted(failedAttempt int) bool {
	return failedAttempt+1 >= p.MaxAttempts
}
