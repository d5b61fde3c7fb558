package counter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process counter store for tests and single-instance
// deployments. Windows expire lazily on next access.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*window
	clock    func() time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*window),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests and returns the store.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Increment bumps the counter, creating it with the TTL on first use.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	w, ok := s.counters[key]
	if !ok || now.After(w.expiresAt) {
		w = &window{expiresAt: now.Add(ttl)}
		s.counters[key] = w
	}
	w.count++
	return w.count, nil
}
