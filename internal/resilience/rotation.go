package resilience

import (
	"time"

	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Candidate is a backend that passed its probe.
type Candidate struct {
	// Backend is the probed backend.
	Backend speech.Backend

	// ResponseTime is how long the probe took.
	ResponseTime time.Duration

	// NeedsVerification is set when the probe succeeded with a degraded
	// capability. It is cleared by the first successful attempt.
	NeedsVerification bool

	// Detail is the probe's human-readable note, if any.
	Detail string
}

// Name returns the backend name.
func (c *Candidate) Name() string { return c.Backend.Name() }

// rotation is the ordered list of candidates the orchestrator walks. It is
// not safe for concurrent use; the Pronouncer guards it with its state mutex.
type rotation struct {
	items []*Candidate
}

func newRotation(cands []*Candidate) *rotation {
	items := make([]*Candidate, len(cands))
	copy(items, cands)
	return &rotation{items: items}
}

// Len returns the number of candidates.
func (r *rotation) Len() int { return len(r.items) }

// At returns the candidate at i, or nil when i is out of range.
func (r *rotation) At(i int) *Candidate {
	if i < 0 || i >= len(r.items) {
		return nil
	}
	return r.items[i]
}

// IndexOf returns the position of the candidate named name, or -1.
func (r *rotation) IndexOf(name string) int {
	for i, c := range r.items {
		if c.Name() == name {
			return i
		}
	}
	return -1
}

// MoveToBack moves the candidate at i to the end, shifting the following
// candidates forward by one. Out-of-range indices are ignored.
func (r *rotation) MoveToBack(i int) {
	if i < 0 || i >= len(r.items) {
		return
	}
	c := r.items[i]
	copy(r.items[i:], r.items[i+1:])
	r.items[len(r.items)-1] = c
}

// Remove deletes the candidate at i and returns it, or nil when i is out of
// range.
func (r *rotation) Remove(i int) *Candidate {
	if i < 0 || i >= len(r.items) {
		return nil
	}
	c := r.items[i]
	next := make([]*Candidate, 0, len(r.items)-1)
	next = append(next, r.items[:i]...)
	next = append(next, r.items[i+1:]...)
	r.items = next
	return c
}

// Reset empties the rotation.
func (r *rotation) Reset() { r.items = nil }

// Names returns the backend names in rotation order.
func (r *rotation) Names() []string {
	out := make([]string, len(r.items))
	for i, c := range r.items {
		out[i] = c.Name()
	}
	return out
}
