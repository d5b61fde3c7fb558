package security

import (
	"sync"
	"time"
)

// PatternTracker maintains a trailing window of access timestamps per user
// to detect high-frequency PHI access. This is derived state: losing it
// degrades detection but never corrupts correctness, so an in-process
// sliding window is sufficient even in multi-instance deployments (each
// instance watches its own traffic).
type PatternTracker struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	window  time.Duration
	clock   func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewPatternTracker creates a tracker with the given trailing window.
func NewPatternTracker(window time.Duration) *PatternTracker {
	return &PatternTracker{
		windows: make(map[string]*slidingWindow),
		window:  window,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for tests and returns the tracker.
func (t *PatternTracker) WithClock(clock func() time.Time) *PatternTracker {
	t.clock = clock
	return t
}

// Record adds an access for the user and returns how many accesses fall in
// the trailing window, including this one.
func (t *PatternTracker) Record(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	w, ok := t.windows[userID]
	if !ok {
		w = &slidingWindow{}
		t.windows[userID] = w
	}
	w.prune(now.Add(-t.window))
	w.timestamps = append(w.timestamps, now)
	return len(w.timestamps)
}

// Count returns the current window count without recording an access.
func (t *PatternTracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[userID]
	if !ok {
		return 0
	}
	w.prune(t.clock().Add(-t.window))
	return len(w.timestamps)
}

func (w *slidingWindow) prune(cutoff time.Time) {
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
