package fx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource publishes rates for fixed days only and counts lookups.
type scriptedSource struct {
	mu      sync.Mutex
	rates   map[string]string // day -> rate
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (s *scriptedSource) Rate(_ context.Context, pair Pair, day time.Time) (Rate, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return Rate{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rates[Day(day)]
	if !ok {
		return Rate{}, ErrRateNotPublished
	}
	return Rate{Pair: pair, AsOf: Day(day), Value: decimal.RequireFromString(v)}, nil
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedNow() time.Time { return date("2024-06-01") }

func TestConvertEURPassthrough(t *testing.T) {
	src := &scriptedSource{}
	c := NewConverter(src, nil, WithClock(fixedNow))

	got, rate, err := c.Convert(context.Background(), Money{Minor: -7500, Currency: "EUR"}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, int64(-7500), got)
	assert.True(t, rate.Value.Equal(decimal.NewFromInt(1)))
	assert.Zero(t, src.calls.Load())
}

func TestConvertUSD(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-10": "0.92"}}
	c := NewConverter(src, nil, WithClock(fixedNow))

	got, rate, err := c.Convert(context.Background(), Money{Minor: -10000, Currency: "USD"}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, int64(-9200), got)
	assert.Equal(t, "2024-03-10", rate.AsOf)
}

func TestConvertRoundsHalfToEven(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-10": "0.5"}}
	c := NewConverter(src, nil, WithClock(fixedNow))

	cases := map[int64]int64{1: 0, 3: 2, 5: 2, 7: 4, -3: -2}
	for in, want := range cases {
		got, _, err := c.Convert(context.Background(), Money{Minor: in, Currency: "USD"}, date("2024-03-10"))
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %d", in)
	}
}

func TestConvertAdjustsExponents(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-10": "0.0061"}}
	c := NewConverter(src, nil, WithClock(fixedNow))

	// 10000 JPY (no minor unit) at 0.0061 = 61.00 EUR.
	got, _, err := c.Convert(context.Background(), Money{Minor: 10000, Currency: "JPY"}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, int64(6100), got)
}

func TestConvertCacheHitEqualsMiss(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-08": "0.9137"}}
	store := NewMemoryStore()
	c := NewConverter(src, store, WithClock(fixedNow))
	m := Money{Minor: -12345, Currency: "USD"}

	miss, missRate, err := c.Convert(context.Background(), m, date("2024-03-10"))
	require.NoError(t, err)
	calls := src.calls.Load()

	hit, hitRate, err := c.Convert(context.Background(), m, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, miss, hit)
	assert.Equal(t, missRate.AsOf, hitRate.AsOf)
	assert.Equal(t, calls, src.calls.Load(), "second conversion must be served from the store")

	fresh := NewConverter(src, nil, WithClock(fixedNow))
	again, _, err := fresh.Convert(context.Background(), m, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, miss, again)
}

func TestConvertWalksBackOverWeekend(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-08": "0.92"}}
	store := NewMemoryStore()
	c := NewConverter(src, store, WithClock(fixedNow))

	_, rate, err := c.Convert(context.Background(), Money{Minor: -10000, Currency: "USD"}, date("2024-03-10"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", rate.AsOf)
	assert.EqualValues(t, 3, src.calls.Load())

	_, ok, _ := store.Get(context.Background(), Pair{"USD", EUR}, "2024-03-10")
	assert.True(t, ok, "substitute rate is remembered under the requested day")
}

func TestConvertUnavailableBeyondLookback(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-01": "0.92"}}
	c := NewConverter(src, nil, WithClock(fixedNow), WithMaxLookbackDays(3))

	_, _, err := c.Convert(context.Background(), Money{Minor: -100, Currency: "USD"}, date("2024-03-10"))
	assert.ErrorIs(t, err, ErrConversionUnavailable)
	assert.EqualValues(t, 4, src.calls.Load())
}

func TestConvertSourceFailure(t *testing.T) {
	src := &scriptedSource{err: errors.New("connection refused")}
	c := NewConverter(src, nil, WithClock(fixedNow))

	_, _, err := c.Convert(context.Background(), Money{Minor: -100, Currency: "GBP"}, date("2024-03-10"))
	assert.ErrorIs(t, err, ErrConversionUnavailable)

	_, _, err = c.Convert(context.Background(), Money{Minor: -100, Currency: "??"}, date("2024-03-10"))
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestTodaysSubstituteIsNotStored(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-05-31": "0.92"}}
	store := NewMemoryStore()
	c := NewConverter(src, store, WithClock(fixedNow))

	_, rate, err := c.Convert(context.Background(), Money{Minor: 100, Currency: "USD"}, date("2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-31", rate.AsOf)

	_, ok, _ := store.Get(context.Background(), Pair{"USD", EUR}, "2024-06-01")
	assert.False(t, ok)
	_, ok, _ = store.Get(context.Background(), Pair{"USD", EUR}, "2024-05-31")
	assert.True(t, ok)
}

func TestConcurrentMissesCollapse(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-10": "0.92"}, release: make(chan struct{})}
	c := NewConverter(src, nil, WithClock(fixedNow))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.Convert(context.Background(), Money{Minor: -10000, Currency: "USD"}, date("2024-03-10"))
			assert.NoError(t, err)
			assert.Equal(t, int64(-9200), got)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCancelledCallerLeavesLookupToOthers(t *testing.T) {
	src := &scriptedSource{rates: map[string]string{"2024-03-10": "0.92"}, release: make(chan struct{})}
	c := NewConverter(src, nil, WithClock(fixedNow))
	usd := Money{Minor: -10000, Currency: "USD"}

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.Convert(ctx, usd, date("2024-03-10"))
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	follower := make(chan int64, 1)
	go func() {
		got, _, err := c.Convert(context.Background(), usd, date("2024-03-10"))
		assert.NoError(t, err)
		follower <- got
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(src.release)
	assert.Equal(t, int64(-9200), <-follower)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestTieredStoreFillsLocal(t *testing.T) {
	local, shared := NewMemoryStore(), NewMemoryStore()
	tiered := NewTieredStore(local, shared)
	r := Rate{Pair: Pair{"USD", EUR}, AsOf: "2024-03-10", Value: decimal.RequireFromString("0.92")}
	require.NoError(t, shared.Put(context.Background(), "2024-03-10", r))

	got, ok, err := tiered.Get(context.Background(), r.Pair, "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(r.Value))
	assert.Equal(t, 1, local.Len())

	require.NoError(t, tiered.Put(context.Background(), "2024-03-11", r))
	assert.Equal(t, 2, local.Len())
	assert.Equal(t, 2, shared.Len())
}
