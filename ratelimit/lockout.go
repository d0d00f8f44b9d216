package ratelimit

import (
	"sync"
	"time"
)

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// Lockout tracks consecutive failed logins per client and enforces
// exponential backoff once maxFailures is reached.
type Lockout struct {
	mu       sync.Mutex
	now      func() time.Time
	attempts map[string]*attemptRecord
}

func NewLockout(opts ...LockoutOption) *Lockout {
	lo := &Lockout{now: time.Now, attempts: make(map[string]*attemptRecord)}
	for _, opt := range opts {
		opt(lo)
	}
	return lo
}

type LockoutOption func(*Lockout)

func WithLockoutClock(now func() time.Time) LockoutOption {
	return func(lo *Lockout) { lo.now = now }
}

// Check reports whether key is locked out and for how long.
func (lo *Lockout) Check(key string) (blocked bool, retryAfter time.Duration) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	rec, ok := lo.attempts[key]
	if !ok {
		return false, 0
	}
	now := lo.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(lo.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a failed login; baseLockout*2^(failures-maxFailures), capped.
func (lo *Lockout) RecordFailure(key string) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	rec, ok := lo.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		lo.attempts[key] = rec
	}
	now := lo.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (lo *Lockout) RecordSuccess(key string) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	delete(lo.attempts, key)
}

// Sweep removes expired records.
func (lo *Lockout) Sweep() {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	now := lo.now()
	for key, rec := range lo.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(lo.attempts, key)
		}
	}
}
