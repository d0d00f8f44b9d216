package secret

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	name   string
	origin Origin
	value  string
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (s *countingSource) Name() string   { return s.name }
func (s *countingSource) Origin() Origin { return s.origin }

func (s *countingSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.value), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func reveal(t *testing.T, s *ResolvedSecret) string {
	t.Helper()
	var out string
	require.NoError(t, s.Use(func(v []byte) error {
		out = string(v)
		return nil
	}))
	return out
}

func TestResolveCachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	vault := &countingSource{name: "vault", origin: OriginVault, value: "vault-key"}
	r := NewResolver(vault, nil, WithClock(clock.Now), WithTTL(15*time.Minute))

	s, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-key", reveal(t, s))
	assert.Equal(t, OriginVault, s.Origin())

	clock.Advance(14 * time.Minute)
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, vault.calls.Load())

	clock.Advance(time.Minute)
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, vault.calls.Load(), "expired entry must re-query")
}

func TestInvalidateForcesRequery(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, value: "vault-key"}
	r := NewResolver(vault, nil)

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	r.Invalidate()
	assert.False(t, r.Status().Cached)

	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, vault.calls.Load())
}

func TestFallbackUsedWhenVaultFails(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, err: fmt.Errorf("%w: status 503", ErrVaultUnavailable)}
	fallback := &countingSource{name: "static", origin: OriginFallback, value: "local-key"}
	r := NewResolver(vault, fallback)

	s, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local-key", reveal(t, s))
	assert.Equal(t, OriginFallback, s.Origin())

	st := r.Status()
	assert.True(t, st.Cached)
	assert.Equal(t, "fallback", st.Source)
	assert.True(t, st.Vault)
	assert.True(t, st.Fallback)
}

func TestUnavailableWithoutFallback(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, err: ErrVaultAuth}
	r := NewResolver(vault, nil)

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
	assert.ErrorIs(t, err, ErrVaultAuth)

	_, err = NewResolver(nil, nil).Resolve(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
}

func TestErrorsAreNotCached(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, err: ErrVaultUnavailable}
	r := NewResolver(vault, nil)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	vault.err = nil
	vault.value = "recovered"

	s, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", reveal(t, s))
}

func TestConcurrentColdResolveQueriesOnce(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, value: "vault-key", gate: make(chan struct{})}
	r := NewResolver(vault, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background())
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(vault.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, vault.calls.Load())
}

func TestCancelledCallerKeepsVaultPreferred(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, value: "vault-key", gate: make(chan struct{})}
	fallback := &countingSource{name: "static", origin: OriginFallback, value: "local-key"}
	r := NewResolver(vault, fallback)

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return vault.calls.Load() == 1 }, time.Second, time.Millisecond)

	follower := make(chan *ResolvedSecret, 1)
	go func() {
		s, err := r.Resolve(context.Background())
		assert.NoError(t, err)
		follower <- s
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(vault.gate)

	s := <-follower
	require.NotNil(t, s)
	assert.Equal(t, OriginVault, s.Origin())
	assert.Equal(t, "vault-key", reveal(t, s))
	assert.Zero(t, fallback.calls.Load())
	assert.Equal(t, "vault", r.Status().Source)
}

func TestCancelledVaultLookupSkipsFallback(t *testing.T) {
	vault := &countingSource{name: "vault", origin: OriginVault, err: context.Canceled}
	fallback := &countingSource{name: "static", origin: OriginFallback, value: "local-key"}
	r := NewResolver(vault, fallback)

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fallback.calls.Load())
	assert.False(t, r.Status().Cached)
}

func TestSecretNeverRendered(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	vault := &countingSource{name: "vault", origin: OriginVault, err: errors.New("boom")}
	fallback := &countingSource{name: "static", origin: OriginFallback, value: "super-secret-key"}
	r := NewResolver(vault, fallback, WithLogger(logger))

	s, err := r.Resolve(context.Background())
	require.NoError(t, err)
	logger.Info("resolved", "secret", s, "raw", s)

	js, err := json.Marshal(map[string]any{"s": s})
	require.NoError(t, err)

	for _, rendered := range []string{
		fmt.Sprint(s), fmt.Sprintf("%v %+v %#v %s", s, s, s, s), string(js), logs.String(),
	} {
		assert.NotContains(t, rendered, "super-secret-key")
	}
	assert.Contains(t, logs.String(), `"origin":"fallback"`)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := newResolvedSecret(nil, OriginVault, time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewStaticSource("").Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmptySecret)
}
