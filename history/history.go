// Package history keeps an append-only record of every transaction the
// gateway has served.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/bankgate/ledger"
	"github.com/jmcleod/bankgate/storage"
)

const (
	bucketName = "history"
	recordType = "TX"
	// byDateType indexes records newest first: its keys sort by inverted
	// transaction time, then ID.
	byDateType = "BYDATE"

	DefaultLimit = 50
	MaxLimit     = 500
)

// Record is a transaction as first observed.
type Record struct {
	ledger.Transaction
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Store writes records create-only, so a transaction seen again later is
// never overwritten.
type Store struct {
	repo storage.Repository
	now  func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(repo storage.Repository, opts ...Option) *Store {
	s := &Store{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores the transactions not yet known and returns how many were
// new. All writes happen in one batch.
func (s *Store) Append(ctx context.Context, txs []ledger.Transaction) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seen := s.now().UTC()
	added := 0
	err := s.repo.Batch(bucketName, func(tx storage.BatchTx) error {
		added = 0
		for _, t := range txs {
			if t.ID == "" {
				continue
			}
			env, err := storage.NewJSONEnvelope(Record{Transaction: t, FirstSeenAt: seen}, 1)
			if err != nil {
				return err
			}
			err = tx.PutCAS(recordType, t.ID, 0, env)
			switch {
			case err == nil:
			case errors.Is(err, storage.ErrCASFailed):
				continue
			default:
				return fmt.Errorf("storing %s: %w", t.ID, err)
			}
			ref, err := storage.NewJSONEnvelope(t.ID, 1)
			if err != nil {
				return err
			}
			if err := tx.Put(byDateType, dateKey(t.Date, t.ID), ref); err != nil {
				return fmt.Errorf("indexing %s: %w", t.ID, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("appending history: %w", err)
	}
	return added, nil
}

// Get returns a single record.
func (s *Store) Get(id string) (Record, error) {
	env, err := s.repo.Get(bucketName, recordType, id)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := env.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decoding %s: %w", id, err)
	}
	return r, nil
}

// Page is a window over the history, newest first.
type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

var errPageFull = errors.New("page full")

// List returns records ordered by transaction date, newest first. A limit
// outside 1..MaxLimit falls back to DefaultLimit. Only the index keys up
// to offset+limit are visited; the total is a key count.
func (s *Store) List(limit, offset int) (Page, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	offset = max(offset, 0)

	total, err := s.repo.Count(bucketName, byDateType)
	if err != nil {
		return Page{}, err
	}
	p := Page{Total: total, Limit: limit, Offset: offset, Records: []Record{}}
	if offset >= total {
		return p, nil
	}

	skipped := 0
	err = s.repo.Scan(bucketName, byDateType, func(key string, env *storage.Envelope) error {
		if skipped < offset {
			skipped++
			return nil
		}
		var id string
		if err := env.Decode(&id); err != nil {
			return fmt.Errorf("decoding index %s: %w", key, err)
		}
		r, err := s.Get(id)
		if err != nil {
			return err
		}
		p.Records = append(p.Records, r)
		if len(p.Records) == limit {
			return errPageFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		return Page{}, err
	}
	return p, nil
}

// dateKey sorts ascending as time descends. The sign bit is flipped so
// pre-1970 times order correctly as unsigned values.
func dateKey(t time.Time, id string) string {
	u := uint64(t.UnixNano()) ^ 1<<63
	return fmt.Sprintf("%016x|%s", ^u, id)
}
