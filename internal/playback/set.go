// Package playback tracks the audio resources of in-flight pronunciations so
// they can all be halted at once.
package playback

import (
	"sync"

	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Set is a collection of live playback handles. It implements
// [speech.Registrar]. The zero value is ready to use.
type Set struct {
	mu      sync.Mutex
	next    uint64
	handles map[uint64]speech.Handle
}

var _ speech.Registrar = (*Set)(nil)

// Track adds h to the set. The returned release func removes it again and is
// safe to call any number of times, including after StopAll already removed it.
func (s *Set) Track(h speech.Handle) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[uint64]speech.Handle)
	}
	id := s.next
	s.next++
	s.handles[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handles, id)
			s.mu.Unlock()
		})
	}
}

// StopAll stops every tracked handle and empties the set. It returns the
// number of handles stopped. Stop is called outside the lock so a handle may
// call its own release func.
func (s *Set) StopAll() int {
	s.mu.Lock()
	hs := make([]speech.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		hs = append(hs, h)
	}
	clear(s.handles)
	s.mu.Unlock()

	for _, h := range hs {
		h.Stop()
	}
	return len(hs)
}

// Len reports how many handles are currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
