package fx

import (
	"context"
	"sync"
)

// RateStore caches published rates by pair and day. Published historical
// rates never change, so entries do not expire.
type RateStore interface {
	Get(ctx context.Context, pair Pair, day string) (Rate, bool, error)
	Put(ctx context.Context, day string, rate Rate) error
}

type memoryKey struct {
	pair Pair
	day  string
}

// MemoryStore is a process-local RateStore.
type MemoryStore struct {
	mu    sync.RWMutex
	rates map[memoryKey]Rate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[memoryKey]Rate)}
}

func (s *MemoryStore) Get(_ context.Context, pair Pair, day string) (Rate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[memoryKey{pair, day}]
	return r, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, day string, rate Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[memoryKey{rate.Pair, day}] = rate
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rates)
}

// TieredStore reads through a fast local store to a shared one and fills
// the local tier on shared hits.
type TieredStore struct {
	local  RateStore
	shared RateStore
}

func NewTieredStore(local, shared RateStore) *TieredStore {
	return &TieredStore{local: local, shared: shared}
}

func (s *TieredStore) Get(ctx context.Context, pair Pair, day string) (Rate, bool, error) {
	if r, ok, err := s.local.Get(ctx, pair, day); err != nil || ok {
		return r, ok, err
	}
	r, ok, err := s.shared.Get(ctx, pair, day)
	if err != nil || !ok {
		return r, ok, err
	}
	if err := s.local.Put(ctx, day, r); err != nil {
		return Rate{}, false, err
	}
	return r, true, nil
}

func (s *TieredStore) Put(ctx context.Context, day string, rate Rate) error {
	if err := s.local.Put(ctx, day, rate); err != nil {
		return err
	}
	return s.shared.Put(ctx, day, rate)
}
