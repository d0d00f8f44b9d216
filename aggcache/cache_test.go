package aggcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type countingObserver struct {
	hits, misses atomic.Int32
}

func (o *countingObserver) CacheHit(string)  { o.hits.Add(1) }
func (o *countingObserver) CacheMiss(string) { o.misses.Add(1) }

func counter(n *atomic.Int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n.Add(1)
		return value, nil
	}
}

func TestGetOrComputeCachesUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	obs := &countingObserver{}
	c := New[string]("tx", 5*time.Minute, WithClock(clock.Now), WithObserver(obs))
	var calls atomic.Int32

	v, hit, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.False(t, hit)

	clock.Advance(4 * time.Minute)
	v, hit, err = c.GetOrCompute(context.Background(), "k", counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.True(t, hit)

	clock.Advance(time.Minute)
	v, hit, err = c.GetOrCompute(context.Background(), "k", counter(&calls, "c"))
	require.NoError(t, err)
	assert.Equal(t, "c", v, "entry at exactly TTL is stale")
	assert.False(t, hit)

	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, obs.hits.Load())
	assert.EqualValues(t, 2, obs.misses.Load())
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[int]("tx", time.Minute)
	boom := errors.New("upstream down")

	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42, v)
}

func TestConcurrentMissComputesOnce(t *testing.T) {
	c := New[string]("tx", time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrCompute(context.Background(), "k", fn)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestInvalidateDuringComputeDiscardsResult(t *testing.T) {
	c := New[string]("tx", time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string)

	go func() {
		v, _, _ := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()
	<-started
	c.Invalidate("k")

	var calls atomic.Int32
	v, hit, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "fresh"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v, "must not join the computation started before Invalidate")

	close(release)
	assert.Equal(t, "stale", <-done)

	v, hit, err = c.GetOrCompute(context.Background(), "k", counter(&calls, "other"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "fresh", v)
}

func TestInvalidateAllDetachesInflight(t *testing.T) {
	c := New[string]("tx", time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()
	<-started

	var calls atomic.Int32
	_, _, err := c.GetOrCompute(context.Background(), "other", counter(&calls, "x"))
	require.NoError(t, err)
	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())

	v, _, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	close(release)
}

func TestRefreshBypassesCache(t *testing.T) {
	c := New[string]("tx", time.Hour)
	var calls atomic.Int32

	_, _, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "a"))
	require.NoError(t, err)
	v, err := c.Refresh(context.Background(), "k", counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	v, hit, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "c"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "b", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New[string]("tx", time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "k", fn)
		leaderErr <- err
	}()
	<-started

	follower := make(chan string, 1)
	go func() {
		v, _, err := c.GetOrCompute(context.Background(), "k", fn)
		assert.NoError(t, err)
		follower <- v
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	assert.Equal(t, "v", <-follower)
	assert.EqualValues(t, 1, calls.Load())

	v, hit, err := c.GetOrCompute(context.Background(), "k", fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v", v)
}

func TestComputeTimeoutBoundsDetachedWork(t *testing.T) {
	c := New[string]("tx", time.Minute, WithComputeTimeout(20*time.Millisecond))
	_, _, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

func TestSweepDropsExpiredDayKeys(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := New[string]("tx", 5*time.Minute, WithClock(clock.Now))
	var calls atomic.Int32

	for day := range 365 {
		key := fmt.Sprintf("transactions:90:%s", clock.Now().Format(time.DateOnly))
		_, _, err := c.GetOrCompute(context.Background(), key, counter(&calls, "x"))
		require.NoError(t, err)
		if day%30 == 0 {
			c.Sweep()
		}
		clock.Advance(24 * time.Hour)
	}
	c.Sweep()
	assert.Equal(t, 0, c.Len())

	_, _, err := c.GetOrCompute(context.Background(), "fresh", counter(&calls, "y"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string]("tx", time.Minute, WithClock(clock.Now))
	var calls atomic.Int32
	_, _, err := c.GetOrCompute(context.Background(), "k", counter(&calls, "x"))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
