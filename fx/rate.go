// Package fx converts transaction amounts to EUR with historical daily rates.
package fx

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrConversionUnavailable means no rate could be found within the
	// lookback window. The amount must be flagged, never guessed.
	ErrConversionUnavailable = errors.New("fx conversion unavailable")
	// ErrRateNotPublished is returned by a RateSource that has no rate for
	// the requested day.
	ErrRateNotPublished = errors.New("fx rate not published")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
)

const dayLayout = time.DateOnly

// Money is an amount in integer minor units of Currency.
type Money struct {
	Minor    int64
	Currency string
}

type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// Rate converts one unit of Pair.Base into Pair.Quote as published on AsOf.
type Rate struct {
	Pair  Pair            `json:"pair"`
	AsOf  string          `json:"as_of"`
	Value decimal.Decimal `json:"value"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}
