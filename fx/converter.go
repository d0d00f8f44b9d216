package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxLookbackDays = 7

	// lookupTimeout bounds a shared rate lookup once it no longer follows
	// the caller that started it.
	lookupTimeout = 30 * time.Second
)

// Converter turns foreign-currency amounts into EUR minor units using the
// rate published on the transaction date, or the closest earlier one
// within the lookback window.
type Converter struct {
	source   RateSource
	store    RateStore
	lookback int
	now      func() time.Time
	logger   *slog.Logger
	group    singleflight.Group
}

type Option func(*Converter)

func WithMaxLookbackDays(n int) Option {
	return func(c *Converter) {
		if n >= 0 {
			c.lookback = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

func NewConverter(source RateSource, store RateStore, opts ...Option) *Converter {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Converter{
		source:   source,
		store:    store,
		lookback: DefaultMaxLookbackDays,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert returns amount in EUR minor units, rounded half to even, and
// the rate used. EUR amounts pass through with a rate of 1.
func (c *Converter) Convert(ctx context.Context, amount Money, on time.Time) (int64, Rate, error) {
	cur, err := NormalizeCurrency(amount.Currency)
	if err != nil {
		return 0, Rate{}, err
	}
	if cur == EUR {
		return amount.Minor, Rate{Pair: Pair{EUR, EUR}, AsOf: Day(on), Value: decimal.NewFromInt(1)}, nil
	}
	rate, err := c.rateFor(ctx, Pair{Base: cur, Quote: EUR}, on)
	if err != nil {
		return 0, Rate{}, err
	}
	eur := decimal.NewFromInt(amount.Minor).
		Mul(rate.Value).
		Shift(Exponent(EUR) - Exponent(cur)).
		RoundBank(0)
	return eur.IntPart(), rate, nil
}

func (c *Converter) rateFor(ctx context.Context, pair Pair, on time.Time) (Rate, error) {
	day := Day(on)
	if r, ok, err := c.store.Get(ctx, pair, day); err != nil {
		c.logger.Warn("fx rate store read failed", "pair", pair.String(), "error", err)
	} else if ok {
		return r, nil
	}
	ch := c.group.DoChan(pair.String()+"@"+day, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return c.lookup(lctx, pair, on)
	})
	select {
	case <-ctx.Done():
		return Rate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Rate{}, res.Err
		}
		return res.Val.(Rate), nil
	}
}

// lookup walks back from on, one day at a time, until a rate is found or
// the lookback window is exhausted.
func (c *Converter) lookup(ctx context.Context, pair Pair, on time.Time) (Rate, error) {
	day := Day(on)
	start, _ := time.Parse(dayLayout, day)
	oldest := start.AddDate(0, 0, -c.lookback)

	for d := start; !d.Before(oldest); d = d.AddDate(0, 0, -1) {
		if cached, ok, _ := c.store.Get(ctx, pair, Day(d)); ok {
			c.remember(ctx, day, cached)
			return cached, nil
		}
		r, err := c.source.Rate(ctx, pair, d)
		if errors.Is(err, ErrRateNotPublished) {
			continue
		}
		if err != nil {
			return Rate{}, fmt.Errorf("%w: %s on %s: %w", ErrConversionUnavailable, pair, day, err)
		}
		asOf, perr := time.Parse(dayLayout, r.AsOf)
		if perr != nil || asOf.After(start) {
			continue
		}
		if asOf.Before(oldest) {
			break
		}
		c.remember(ctx, r.AsOf, r)
		c.remember(ctx, day, r)
		return r, nil
	}
	return Rate{}, fmt.Errorf("%w: no %s rate within %d days of %s", ErrConversionUnavailable, pair, c.lookback, day)
}

// remember stores r under day. A substitute rate is only cached for days
// that are over; today's own rate may still be published.
func (c *Converter) remember(ctx context.Context, day string, r Rate) {
	if day != r.AsOf && day >= Day(c.now()) {
		return
	}
	if err := c.store.Put(ctx, day, r); err != nil {
		c.logger.Warn("fx rate store write failed", "pair", r.Pair.String(), "day", day, "error", err)
	}
}
