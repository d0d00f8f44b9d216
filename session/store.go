package session

import (
	"context"
	"sync"
	"time"
)

// Store abstracts session persistence.
type Store interface {
	// Get returns the session for id. Expired sessions are removed and
	// reported as missing.
	Get(id string) (Session, bool)
	Put(s Session)
	Delete(id string)
	// Sweep removes every session expired at now and returns the count.
	Sweep(now time.Time) int
	Len() int
}

// MemoryStore is a thread-safe in-memory Store.
// Sessions are lost on server restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Session
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{data: make(map[string]Session), now: now}
}

func (s *MemoryStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if sess.Expired(s.now()) {
		s.Delete(id)
		return Session{}, false
	}
	return sess, true
}

func (s *MemoryStore) Put(sess Session) {
	s.mu.Lock()
	s.data[sess.ID] = sess
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.data {
		if sess.Expired(now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}
