package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/bankgate/internal/breaker"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const (
	DefaultSourceURL = "https://api.frankfurter.app"
	DefaultTimeout   = 5 * time.Second
)

// RateSource looks up the rate published for a day. A source may answer
// with an earlier publication (AsOf before day) when the day itself has
// none; it returns ErrRateNotPublished when it has nothing at all.
type RateSource interface {
	Rate(ctx context.Context, pair Pair, day time.Time) (Rate, error)
}

type HTTPSourceConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPSource queries a Frankfurter-compatible reference-rate API:
// GET {base}/{YYYY-MM-DD}?from=USD&to=EUR.
type HTTPSource struct {
	base    string
	timeout time.Duration
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSourceURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  client,
		cb: breaker.New("fx", cfg.Logger, func(err error) bool {
			return err == nil || errors.Is(err, ErrRateNotPublished)
		}),
	}
}

func (s *HTTPSource) BreakerState() gobreaker.State { return s.cb.State() }

type ratesResponse struct {
	Base  string                 `json:"base"`
	Date  string                 `json:"date"`
	Rates map[string]json.Number `json:"rates"`
}

func (s *HTTPSource) Rate(ctx context.Context, pair Pair, day time.Time) (Rate, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.fetch(ctx, pair, day)
	})
	if err != nil {
		if breaker.Rejected(err) {
			return Rate{}, fmt.Errorf("fx source circuit open: %w", err)
		}
		return Rate{}, err
	}
	return out.(Rate), nil
}

func (s *HTTPSource) fetch(ctx context.Context, pair Pair, day time.Time) (Rate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q := url.Values{"from": {pair.Base}, "to": {pair.Quote}}
	target := fmt.Sprintf("%s/%s?%s", s.base, Day(day), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("building fx request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("fx request for %s on %s: %w", pair, Day(day), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return Rate{}, fmt.Errorf("%w: %s on %s", ErrRateNotPublished, pair, Day(day))
	case resp.StatusCode != http.StatusOK:
		return Rate{}, fmt.Errorf("fx source status %d for %s on %s", resp.StatusCode, pair, Day(day))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	var body ratesResponse
	if err := dec.Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("decoding fx response: %w", err)
	}
	raw, ok := body.Rates[pair.Quote]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s on %s", ErrRateNotPublished, pair, Day(day))
	}
	value, err := decimal.NewFromString(raw.String())
	if err != nil || !value.IsPositive() {
		return Rate{}, fmt.Errorf("fx source returned invalid rate %q", raw.String())
	}
	asOf := body.Date
	if _, err := time.Parse(dayLayout, asOf); err != nil {
		asOf = Day(day)
	}
	return Rate{Pair: pair, AsOf: asOf, Value: value}, nil
}
