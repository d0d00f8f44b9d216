// Package ratelimit implements the per-client fixed-window request limiter
// and the failed-login lockout.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 30
)

type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Decision is the outcome of a single Admit call. RetryAfter is positive
// whenever Allowed is false.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is a fixed-window counter keyed by client. Keys are spread over
// independently locked shards, so admits for different clients do not
// contend and admits for the same client never lose an update.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	shards [shardCount]*shard
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	l := &Limiter{cfg: cfg, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Config() Config { return l.cfg }

func (l *Limiter) shardFor(key string) *shard {
	return l.shards[xxhash.Sum64String(key)%shardCount]
}

// Admit counts one request for key against the current window.
func (l *Limiter) Admit(key string) Decision {
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.start.Add(l.cfg.Window)) {
		w = &window{start: now}
		s.windows[key] = w
	}
	if w.count < l.cfg.MaxRequests {
		w.count++
		return Decision{Allowed: true, Remaining: l.cfg.MaxRequests - w.count}
	}
	return Decision{RetryAfter: w.start.Add(l.cfg.Window).Sub(now)}
}

// Sweep drops windows that have rolled over and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if !now.Before(w.start.Add(l.cfg.Window)) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked client windows.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
