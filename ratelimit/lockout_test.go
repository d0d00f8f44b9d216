package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutAllowsBeforeThreshold(t *testing.T) {
	lo := NewLockout()
	for i := 0; i < maxFailures-1; i++ {
		lo.RecordFailure("10.0.0.1")
		blocked, _ := lo.Check("10.0.0.1")
		assert.False(t, blocked)
	}
}

func TestLockoutExponentialBackoffCapped(t *testing.T) {
	clock := newFakeClock()
	lo := NewLockout(WithLockoutClock(clock.Now))

	for i := 0; i < maxFailures; i++ {
		lo.RecordFailure("10.0.0.1")
	}
	blocked, retry := lo.Check("10.0.0.1")
	require.True(t, blocked)
	assert.Equal(t, baseLockout, retry)

	lo.RecordFailure("10.0.0.1")
	_, retry = lo.Check("10.0.0.1")
	assert.Equal(t, 2*baseLockout, retry)

	for i := 0; i < 10; i++ {
		lo.RecordFailure("10.0.0.1")
	}
	_, retry = lo.Check("10.0.0.1")
	assert.Equal(t, maxLockout, retry)
}

func TestLockoutSuccessResets(t *testing.T) {
	lo := NewLockout()
	for i := 0; i < maxFailures; i++ {
		lo.RecordFailure("10.0.0.1")
	}
	lo.RecordSuccess("10.0.0.1")
	blocked, _ := lo.Check("10.0.0.1")
	assert.False(t, blocked)
}

func TestLockoutExpiresAndSweeps(t *testing.T) {
	clock := newFakeClock()
	lo := NewLockout(WithLockoutClock(clock.Now))
	for i := 0; i < maxFailures; i++ {
		lo.RecordFailure("10.0.0.1")
	}
	lo.RecordFailure("10.0.0.2")

	clock.Advance(baseLockout)
	blocked, _ := lo.Check("10.0.0.1")
	assert.False(t, blocked, "lockout elapsed")

	clock.Advance(attemptExpiry + time.Second)
	lo.Sweep()
	lo.mu.Lock()
	defer lo.mu.Unlock()
	assert.Empty(t, lo.attempts)
}
