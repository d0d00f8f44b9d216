// Package aggcache caches computed aggregates per key with a TTL and
// collapses concurrent computations of the same key into one.
package aggcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Observer receives hit and miss notifications.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

// DefaultComputeTimeout bounds a shared computation once it no longer
// follows any single caller's context.
const DefaultComputeTimeout = 2 * time.Minute

type entry[T any] struct {
	value      T
	computedAt time.Time
}

// Cache is safe for concurrent use. Failed computations are never stored.
type Cache[T any] struct {
	name     string
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	observer Observer

	mu       sync.Mutex
	entries  map[string]entry[T]
	keyGen   map[string]uint64
	gen      uint64
	inflight map[string]int
	group    singleflight.Group
}

type options struct {
	now      func() time.Time
	observer Observer
	timeout  time.Duration
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func New[T any](name string, ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{now: time.Now, timeout: DefaultComputeTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		name:     name,
		ttl:      ttl,
		timeout:  o.timeout,
		now:      o.now,
		observer: o.observer,
		entries:  make(map[string]entry[T]),
		keyGen:   make(map[string]uint64),
		inflight: make(map[string]int),
	}
}

// GetOrCompute returns the cached value for key while it is fresh.
// Otherwise it runs fn, sharing one execution among concurrent callers,
// and caches a successful result. The boolean reports a cache hit.
//
// fn runs detached from any one caller: a caller whose ctx ends gets
// ctx.Err() while the others keep waiting for the shared result.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if v, ok := c.lookup(key); ok {
		c.hit()
		return v, true, nil
	}
	c.miss()

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		gen := c.begin(key)
		defer c.end(key)

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		v, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		c.store(key, v, gen)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil
	}
}

// Refresh recomputes key regardless of any cached value and caches the
// result.
func (c *Cache[T]) Refresh(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	c.Invalidate(key)
	v, _, err := c.GetOrCompute(ctx, key, fn)
	return v, err
}

// Invalidate drops key. A computation already running for key will not
// store its result and later callers do not join it.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.keyGen[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidateAll drops every entry and detaches every running computation.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.gen++
	keys := make([]string, 0, len(c.inflight))
	for k := range c.inflight {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Sweep drops expired entries. Keys that are never read again would
// otherwise stay until the process exits.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.computedAt.Add(c.ttl)) {
			delete(c.entries, k)
			n++
		}
	}
	for k := range c.keyGen {
		if _, ok := c.entries[k]; !ok && c.inflight[k] == 0 {
			delete(c.keyGen, k)
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (c *Cache[T]) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

// Len returns the number of entries, fresh or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) Name() string { return c.name }

func (c *Cache[T]) lookup(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !c.now().Before(e.computedAt.Add(c.ttl)) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// generation combines the global and per-key counters.
func (c *Cache[T]) generationLocked(key string) uint64 {
	return c.gen<<32 | c.keyGen[key]
}

func (c *Cache[T]) begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key]++
	return c.generationLocked(key)
}

func (c *Cache[T]) end(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
}

func (c *Cache[T]) store(key string, v T, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generationLocked(key) != gen {
		return
	}
	c.entries[key] = entry[T]{value: v, computedAt: c.now()}
}

func (c *Cache[T]) hit() {
	if c.observer != nil {
		c.observer.CacheHit(c.name)
	}
}

func (c *Cache[T]) miss() {
	if c.observer != nil {
		c.observer.CacheMiss(c.name)
	}
}
