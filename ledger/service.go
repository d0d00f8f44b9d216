package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/jmcleod/bankgate/aggcache"
	"github.com/jmcleod/bankgate/banking"
	"github.com/jmcleod/bankgate/fx"
)

const (
	DefaultDays = 90
	MaxDays     = 730

	DefaultCacheTTL = 5 * time.Minute
)

var ErrInvalidDays = errors.New("invalid days")

// Fetcher is the read-only upstream.
type Fetcher interface {
	ListAccounts(ctx context.Context) ([]banking.Account, error)
	FetchTransactions(ctx context.Context, r banking.DateRange) iter.Seq2[banking.Page, error]
}

// Recorder persists freshly computed transactions. Failures are logged and
// never fail the request.
type Recorder interface {
	Append(ctx context.Context, txs []Transaction) (int, error)
}

// Query selects transactions. AccountID filters after aggregation so all
// accounts share one cache entry.
type Query struct {
	Days      int
	AccountID string
	Refresh   bool
}

type Result struct {
	Transactions []Transaction `json:"transactions"`
	Cached       bool          `json:"cached"`
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
}

// Service aggregates upstream data into cached, EUR-normalized results.
type Service struct {
	bank     Fetcher
	norm     *Normalizer
	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger

	transactions *aggcache.Cache[[]Transaction]
	accounts     *aggcache.Cache[[]Account]
}

type serviceOptions struct {
	ttl      time.Duration
	observer aggcache.Observer
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*serviceOptions)

func WithCacheTTL(d time.Duration) Option {
	return func(o *serviceOptions) { o.ttl = d }
}

func WithObserver(obs aggcache.Observer) Option {
	return func(o *serviceOptions) { o.observer = obs }
}

func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// NewService wires the pipeline. recorder may be nil.
func NewService(bank Fetcher, conv Converter, recorder Recorder, opts ...Option) *Service {
	o := serviceOptions{ttl: DefaultCacheTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	cacheOpts := []aggcache.Option{aggcache.WithClock(o.now)}
	if o.observer != nil {
		cacheOpts = append(cacheOpts, aggcache.WithObserver(o.observer))
	}
	return &Service{
		bank:         bank,
		norm:         NewNormalizer(conv, o.logger),
		recorder:     recorder,
		now:          o.now,
		logger:       o.logger,
		transactions: aggcache.New[[]Transaction]("transactions", o.ttl, cacheOpts...),
		accounts:     aggcache.New[[]Account]("accounts", o.ttl, cacheOpts...),
	}
}

// Transactions returns the normalized transactions of the last q.Days days,
// newest first. A page failure aborts the whole computation and nothing is
// cached.
func (s *Service) Transactions(ctx context.Context, q Query) (Result, error) {
	if q.Days < 1 || q.Days > MaxDays {
		return Result{}, fmt.Errorf("%w: must be within 1..%d", ErrInvalidDays, MaxDays)
	}
	now := s.now()
	r := banking.LastDays(now, q.Days)
	key := fmt.Sprintf("transactions:%d:%s", q.Days, fx.Day(now))

	compute := func(ctx context.Context) ([]Transaction, error) {
		return s.collect(ctx, r)
	}
	var (
		txs    []Transaction
		cached bool
		err    error
	)
	if q.Refresh {
		txs, err = s.transactions.Refresh(ctx, key, compute)
	} else {
		txs, cached, err = s.transactions.GetOrCompute(ctx, key, compute)
	}
	if err != nil {
		return Result{}, err
	}
	if q.AccountID != "" {
		txs = slices.DeleteFunc(slices.Clone(txs), func(tx Transaction) bool {
			return tx.AccountID != q.AccountID
		})
	}
	return Result{Transactions: txs, Cached: cached, From: r.From, To: r.To}, nil
}

func (s *Service) collect(ctx context.Context, r banking.DateRange) ([]Transaction, error) {
	var out []Transaction
	for page, err := range s.bank.FetchTransactions(ctx, r) {
		if err != nil {
			return nil, err
		}
		txs, err := s.norm.Page(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("normalizing account %s page %d: %w", page.AccountID, page.Number, err)
		}
		out = append(out, txs...)
	}
	sortByDateDesc(out)

	if s.recorder != nil && len(out) > 0 {
		added, err := s.recorder.Append(ctx, out)
		if err != nil {
			s.logger.Warn("recording history failed", "error", err)
		} else if added > 0 {
			s.logger.Debug("history appended", "added", added)
		}
	}
	return out, nil
}

// Accounts lists upstream accounts with EUR balances.
func (s *Service) Accounts(ctx context.Context, refresh bool) ([]Account, bool, error) {
	compute := func(ctx context.Context) ([]Account, error) {
		upstream, err := s.bank.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		out := make([]Account, 0, len(upstream))
		for _, a := range upstream {
			acct, err := s.norm.Account(ctx, a, now)
			if err != nil {
				return nil, fmt.Errorf("normalizing account %s: %w", string(a.ID), err)
			}
			out = append(out, acct)
		}
		return out, nil
	}
	if refresh {
		accts, err := s.accounts.Refresh(ctx, "accounts", compute)
		return accts, false, err
	}
	return s.accounts.GetOrCompute(ctx, "accounts", compute)
}

// Statistics summarizes the transactions of the last days days.
func (s *Service) Statistics(ctx context.Context, days int, refresh bool) (Statistics, bool, error) {
	res, err := s.Transactions(ctx, Query{Days: days, Refresh: refresh})
	if err != nil {
		return Statistics{}, false, err
	}
	return Summarize(res.Transactions, days), res.Cached, nil
}

// Purge drops every cached aggregate. Computes already in flight finish
// but their results are not stored.
func (s *Service) Purge() {
	s.transactions.InvalidateAll()
	s.accounts.InvalidateAll()
}

// Sweep drops expired aggregates from every cache. Transaction keys carry
// the day, so yesterday's entries are never read again.
func (s *Service) Sweep() int {
	return s.transactions.Sweep() + s.accounts.Sweep()
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired aggregates swept", "count", n)
			}
		}
	}
}

// CacheSizes reports the number of live entries per cache.
func (s *Service) CacheSizes() map[string]int {
	return map[string]int{
		s.transactions.Name(): s.transactions.Len(),
		s.accounts.Name():     s.accounts.Len(),
	}
}

func sortByDateDesc(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
