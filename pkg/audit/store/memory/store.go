package memory

import (
	"context"
	"sync"

	"phiguard/pkg/audit"
)

// Store keeps audit entries in memory for tests. Append-only: entries are
// copied on the way in and out so callers cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// New creates an empty in-memory audit store.
func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.PHIFields = append([]string(nil), entry.PHIFields...)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) QueryByPatient(_ context.Context, patientID string, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if e.PatientID == patientID && q.Matches(e) {
			out = append(out, e)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) QueryByUser(_ context.Context, userID string, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if e.UserID == userID && q.Matches(e) {
			out = append(out, e)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns a copy of every stored entry, oldest first.
func (s *Store) All() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.entries...)
}
