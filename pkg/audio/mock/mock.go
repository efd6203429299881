// Package mock provides an in-memory implementation of [audio.Sink] for use in
// unit tests.
//
// The mock is safe for concurrent use. It records every clip it was asked to
// play and lets the test decide how long each stream lasts and whether it
// fails.
//
// Typical usage:
//
//	sink := &mock.Sink{SinkFormat: audio.Format{SampleRate: 24000, Channels: 1}}
//	stream, _ := sink.Play(ctx, clip, 0.5)
//	_ = stream.Wait(ctx)
//	sink.Plays() // one PlayCall with Volume 0.5
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wordtetris/pronounce/pkg/audio"
)

// PlayCall records a single invocation of [Sink.Play].
type PlayCall struct {
	Clip   audio.Clip
	Volume float64
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// SinkFormat is returned by Format. Defaults to 24 kHz mono.
	SinkFormat audio.Format

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// StreamDuration is how long every stream lasts. Zero completes at once.
	StreamDuration time.Duration

	// StreamErr, if non-nil, is returned by Wait after StreamDuration.
	StreamErr error

	// PlayCalls records every successful and failed call to Play.
	PlayCalls []PlayCall

	// Stops counts streams halted with Stop before completion.
	Stops int
}

var _ audio.Sink = (*Sink)(nil)

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SinkFormat == (audio.Format{}) {
		return audio.Format{SampleRate: 24000, Channels: 1}
	}
	return s.SinkFormat
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, clip audio.Clip, volume float64) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, PlayCall{Clip: clip, Volume: volume})
	if s.PlayErr != nil {
		return nil, s.PlayErr
	}
	return &stream{
		sink:    s,
		timer:   time.NewTimer(s.StreamDuration),
		err:     s.StreamErr,
		stopped: make(chan struct{}),
	}, nil
}

// Plays returns a copy of the recorded Play calls. Thread-safe.
func (s *Sink) Plays() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// StopCount returns how many streams were stopped. Thread-safe.
func (s *Sink) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stops
}

type stream struct {
	sink    *Sink
	timer   *time.Timer
	err     error
	once    sync.Once
	stopped chan struct{}
}

func (st *stream) Wait(ctx context.Context) error {
	select {
	case <-st.timer.C:
		// Re-arm so repeated Wait calls return immediately.
		st.timer.Reset(0)
		return st.err
	case <-st.stopped:
		return audio.ErrStreamStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *stream) Stop() {
	st.once.Do(func() {
		st.timer.Stop()
		close(st.stopped)
		st.sink.mu.Lock()
		st.sink.Stops++
		st.sink.mu.Unlock()
	})
}

// ErrDevice is a canned playback failure for tests.
var ErrDevice = errors.New("mock: audio device failure")
