package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 15 * time.Minute
	flightKey  = "credential"

	// resolveTimeout bounds a shared lookup, which outlives the caller
	// that started it.
	resolveTimeout = 30 * time.Second
)

// Resolver returns the banking credential, caching it for a TTL. The
// primary source is tried first and the fallback only after it fails.
type Resolver struct {
	primary  Source
	fallback Source
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	cached *ResolvedSecret
	gen    uint64
	group  singleflight.Group
}

type Option func(*Resolver)

func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver builds a resolver. Either source may be nil.
func NewResolver(primary, fallback Source, opts ...Option) *Resolver {
	r := &Resolver{
		primary:  primary,
		fallback: fallback,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cached credential while it is fresh. Otherwise one
// lookup queries the sources and concurrent callers share its result. A
// caller whose ctx ends returns early without affecting the lookup.
func (r *Resolver) Resolve(ctx context.Context) (*ResolvedSecret, error) {
	if s := r.current(); s != nil {
		return s, nil
	}
	ch := r.group.DoChan(flightKey, func() (any, error) {
		if s := r.current(); s != nil {
			return s, nil
		}
		r.mu.RLock()
		gen := r.gen
		r.mu.RUnlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		s, err := r.fetch(fctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen == gen {
			r.cached = s
		}
		r.mu.Unlock()
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ResolvedSecret), nil
	}
}

func (r *Resolver) current() *ResolvedSecret {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil || r.cached.expired(r.now()) {
		return nil
	}
	return r.cached
}

func (r *Resolver) fetch(ctx context.Context) (*ResolvedSecret, error) {
	var errs []error
	for _, src := range []Source{r.primary, r.fallback} {
		if src == nil {
			continue
		}
		value, err := src.Fetch(ctx)
		if err == nil {
			var s *ResolvedSecret
			s, err = newResolvedSecret(value, src.Origin(), r.now(), r.ttl)
			if err == nil {
				r.logger.Info("banking credential resolved", "source", src.Name())
				return s, nil
			}
		}
		r.logger.Warn("credential source failed",
			"source", src.Name(),
			"error_class", errorClass(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		// A cancelled lookup is not a vault failure.
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrSecretUnavailable, errors.Join(errs...))
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no credential source configured"))
	}
	r.logger.Error("banking credential unavailable", "sources_tried", len(errs))
	return nil, fmt.Errorf("%w: %w", ErrSecretUnavailable, errors.Join(errs...))
}

// Invalidate drops the cached credential. The next Resolve re-queries the
// sources and never joins a lookup that started before this call.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.gen++
	r.mu.Unlock()
	r.group.Forget(flightKey)
	r.logger.Info("banking credential invalidated")
}

// Status describes the resolver without exposing the credential.
type Status struct {
	Configured bool       `json:"configured"`
	Vault      bool       `json:"vault_configured"`
	Fallback   bool       `json:"fallback_configured"`
	Cached     bool       `json:"cached"`
	Source     string     `json:"source,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (r *Resolver) Status() Status {
	st := Status{
		Configured: r.primary != nil || r.fallback != nil,
		Vault:      r.primary != nil,
		Fallback:   r.fallback != nil,
	}
	if s := r.current(); s != nil {
		at := s.ResolvedAt()
		st.Cached = true
		st.Source = s.Origin().String()
		st.ResolvedAt = &at
	}
	return st
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrVaultAuth):
		return "auth"
	case errors.Is(err, ErrVaultItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrVaultMalformed):
		return "malformed"
	case errors.Is(err, ErrVaultUnavailable):
		return "unavailable"
	case errors.Is(err, ErrEmptySecret):
		return "empty"
	default:
		return "other"
	}
}
