// Package banking is a read-only client for the upstream banking API.
package banking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/bankgate/internal/breaker"
	"github.com/jmcleod/bankgate/secret"
	"github.com/sony/gobreaker"
)

const (
	DefaultBaseURL     = "https://api.bunq.com"
	DefaultTimeout     = 15 * time.Second
	DefaultMaxPages    = 50
	DefaultMaxAttempts = 3
	DefaultPageSize    = 200

	maxResponseBytes = 8 << 20
	// maxThrottleWait bounds how long a single Retry-After is honored.
	maxThrottleWait = time.Minute
)

// CredentialProvider supplies the API key. Invalidate is called when the
// upstream rejects the key so the next request re-resolves it.
type CredentialProvider interface {
	Resolve(ctx context.Context) (*secret.ResolvedSecret, error)
	Invalidate()
}

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxPages    int
	MaxAttempts int
	PageSize    int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
}

type Client struct {
	cfg    Config
	creds  CredentialProvider
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg Config, creds CredentialProvider, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "bankgate"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	c := &Client{cfg: cfg, creds: creds, logger: slog.Default()}
	c.http = cfg.HTTPClient
	if c.http == nil {
		c.http = &http.Client{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = breaker.New("banking", c.logger, func(err error) bool {
		return err == nil || !errors.Is(err, ErrUpstreamUnavailable)
	})
	return c
}

func (c *Client) BreakerState() gobreaker.State { return c.cb.State() }

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var out accountList
	if err := c.getJSON(ctx, "/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FetchTransactions yields pages account by account, newest first. Each
// account is followed along its older cursor until the cursor runs out, a
// page reaches past r.From, or MaxPages pages were read. The first error
// is yielded once and ends the sequence. Ranging again starts over.
func (c *Client) FetchTransactions(ctx context.Context, r DateRange) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		accounts, err := c.ListAccounts(ctx)
		if err != nil {
			yield(Page{}, err)
			return
		}
		for _, acct := range accounts {
			if !c.fetchAccount(ctx, acct, r, yield) {
				return
			}
		}
	}
}

func (c *Client) fetchAccount(ctx context.Context, acct Account, r DateRange, yield func(Page, error) bool) bool {
	path := "/v1/accounts/" + url.PathEscape(string(acct.ID)) + "/payments"
	cursor := ""
	for n := 1; n <= c.cfg.MaxPages; n++ {
		q := url.Values{"count": {strconv.Itoa(c.cfg.PageSize)}}
		if cursor != "" {
			q.Set("older_id", cursor)
		}
		var resp paymentList
		if err := c.getJSON(ctx, path, q, &resp); err != nil {
			yield(Page{}, err)
			return false
		}

		page := Page{AccountID: string(acct.ID), AccountName: acct.Description, Number: n}
		reachedStart := false
		for _, p := range resp.Data {
			switch {
			case p.Created.Before(r.From):
				reachedStart = true
			case p.Created.After(r.To):
			default:
				page.Payments = append(page.Payments, p)
			}
		}
		if !yield(page, nil) {
			return false
		}
		if reachedStart || resp.Pagination.OlderCursor == "" {
			return true
		}
		cursor = resp.Pagination.OlderCursor
	}
	c.logger.Warn("payment pagination truncated",
		"account_id", string(acct.ID),
		"max_pages", c.cfg.MaxPages,
	)
	return true
}

// getJSON is the only way this client talks to the upstream and it only
// ever issues GET.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.cb.Execute(func() (interface{}, error) {
		return c.getWithRetry(ctx, path, query)
	})
	if err != nil {
		if breaker.Rejected(err) {
			return fmt.Errorf("%w: circuit open", ErrUpstreamUnavailable)
		}
		return err
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUpstreamUnavailable, path, err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	throttled := false
	delay := c.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; {
		body, retryAfter, err := c.get(ctx, path, query)
		switch {
		case err == nil:
			return body, nil
		case errors.Is(err, errThrottled):
			if throttled || retryAfter > maxThrottleWait {
				return nil, fmt.Errorf("%w: %s: throttled", ErrUpstreamUnavailable, path)
			}
			throttled = true
			c.logger.Warn("upstream throttled", "path", path, "retry_after", retryAfter)
			if err := c.cfg.Sleep(ctx, retryAfter); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
			}
			continue
		case !errors.Is(err, ErrUpstreamUnavailable) || ctx.Err() != nil:
			return nil, err
		}

		lastErr = err
		if attempt == c.cfg.MaxAttempts {
			break
		}
		c.logger.Debug("retrying upstream request", "path", path, "attempt", attempt, "error", err)
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		}
		delay *= 2
		attempt++
	}
	return nil, lastErr
}

// get performs one bounded GET. On 429 it returns errThrottled and the
// advertised wait.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, time.Duration, error) {
	cred, err := c.creds.Resolve(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving banking credential: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if err := cred.Use(func(v []byte) error {
		req.Header.Set("Authorization", "Bearer "+string(v))
		return nil
	}); err != nil {
		return nil, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %s", ErrUpstreamTimeout, path)
		}
		return nil, 0, fmt.Errorf("%w: %s: transport error", ErrUpstreamUnavailable, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %s", ErrUpstreamTimeout, path)
		}
		return nil, 0, fmt.Errorf("%w: %s: reading body", ErrUpstreamUnavailable, path)
	}

	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		return body, 0, nil
	case status == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), errThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.creds.Invalidate()
		return nil, 0, fmt.Errorf("%w: %s: status %d", ErrUpstreamRejected, path, status)
	case status >= 500:
		return nil, 0, fmt.Errorf("%w: %s: status %d", ErrUpstreamUnavailable, path, status)
	default:
		return nil, 0, fmt.Errorf("%w: %s: status %d", ErrUpstreamRejected, path, status)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date and defaults to
// one second.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
