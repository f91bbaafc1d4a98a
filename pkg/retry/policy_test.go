package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseBackoff: time.Minute, Multiplier: 2, MaxBackoff: time.Hour}

	assert.Equal(t, 1*time.Minute, policy.Backoff(0))
	assert.Equal(t, 2*time.Minute, policy.Backoff(1))
	assert.Equal(t, 4*time.Minute, policy.Backoff(2))
	assert.Equal(t, 8*time.Minute, policy.Backoff(3))
}

func TestBackoffCapped(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseBackoff: time.Minute, Multiplier: 2, MaxBackoff: 5 * time.Minute}

	assert.Equal(t, 5*time.Minute, policy.Backoff(3))
	assert.Equal(t, 5*time.Minute, policy.Backoff(9))
}

func TestExhausted(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseBackoff: time.Second, Multiplier: 2}

	assert.False(t, policy.Exhausted(0))
	assert.False(t, policy.Exhausted(1))
	assert.True(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(5))
}

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Minute, policy.BaseBackoff)
	assert.Equal(t, time.Hour, policy.MaxBackoff)
}
