package resilience

import (
	"log/slog"
	"maps"
	"sync"
)

// EvictionThreshold is the number of consecutive failed attempts after which
// a backend is removed from the rotation until the next probe cycle.
const EvictionThreshold = 3

// Tracker counts consecutive attempt failures per backend name. Unlike a
// circuit breaker it never recovers on its own: a backend is reintegrated
// only by a successful probe. Counts below the threshold survive a probe
// cycle and are cleared by a successful attempt; an evicted backend that a
// probe readmits starts again from zero.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	threshold int

	mu       sync.Mutex
	failures map[string]int
}

// NewTracker creates a Tracker that reports eviction once a backend reaches
// threshold consecutive failures. A non-positive threshold selects
// [EvictionThreshold].
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = EvictionThreshold
	}
	return &Tracker{
		threshold: threshold,
		failures:  make(map[string]int),
	}
}

// RecordFailure increments the consecutive failure count for name and
// reports the new count and whether it reached the eviction threshold.
func (t *Tracker) RecordFailure(name string) (count int, evict bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[name]++
	count = t.failures[name]
	if count >= t.threshold {
		slog.Warn("speech backend reached failure threshold",
			"provider", name,
			"consecutive_failures", count)
		return count, true
	}
	return count, false
}

// RecordSuccess resets the consecutive failure count for name.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, name)
}

// Failures returns the current consecutive failure count for name.
func (t *Tracker) Failures(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures[name]
}

// Readmit clears the count of name if it had reached the threshold and
// reports whether it did. Counts below the threshold are left alone.
func (t *Tracker) Readmit(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures[name] < t.threshold {
		return false
	}
	delete(t.failures, name)
	return true
}

// Threshold returns the eviction threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Snapshot returns a copy of all non-zero failure counts.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.failures)
}

// Reset clears every failure count.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.failures)
	slog.Info("speech backend failure counts reset")
}
