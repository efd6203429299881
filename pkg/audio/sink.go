package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStreamStopped is returned by [Stream.Wait] when the stream was halted by
// [Stream.Stop] before it finished playing.
var ErrStreamStopped = errors.New("audio: stream stopped")

// Sink is an audio output device.
//
// Implementations must be safe for concurrent use. Overlapping streams are
// allowed at this layer; callers that need a single active utterance enforce
// it themselves.
type Sink interface {
	// Format is the PCM format Play expects. Clips in any other format are
	// converted with [Convert] by [PlayClip].
	Format() Format

	// Play starts playing clip at the given volume in [0, 1] and returns
	// immediately. The returned stream must eventually be stopped or waited on.
	Play(ctx context.Context, clip Clip, volume float64) (Stream, error)
}

// Stream is one clip being played.
type Stream interface {
	// Wait blocks until playback finishes, the stream is stopped, or ctx is
	// done. It returns nil only when the clip played to completion.
	Wait(ctx context.Context) error

	// Stop halts playback and releases the underlying device resources.
	// Idempotent and non-blocking.
	Stop()
}

// PlayClip converts clip to the sink's format and starts it.
func PlayClip(ctx context.Context, sink Sink, clip Clip, volume float64) (Stream, error) {
	clip = Convert(clip, sink.Format())
	if clip.Empty() {
		return nil, errors.New("audio: clip has no samples")
	}
	return sink.Play(ctx, clip, clampVolume(volume))
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// NullSink is a [Sink] without a device. Each stream simply lasts as long as
// its clip would take to play. Useful on headless hosts.
type NullSink struct {
	format Format
}

// NewNullSink returns a NullSink accepting clips in format.
func NewNullSink(format Format) *NullSink {
	return &NullSink{format: format}
}

// Format implements [Sink].
func (s *NullSink) Format() Format { return s.format }

// Play implements [Sink].
func (s *NullSink) Play(_ context.Context, clip Clip, _ float64) (Stream, error) {
	return NewTimedStream(clip.Duration()), nil
}

// TimedStream is a [Stream] that completes after a fixed duration.
type TimedStream struct {
	timer   *time.Timer
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewTimedStream returns a stream that completes after d.
func NewTimedStream(d time.Duration) *TimedStream {
	s := &TimedStream{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.timer = time.AfterFunc(d, func() { close(s.done) })
	return s
}

// Wait implements [Stream].
func (s *TimedStream) Wait(ctx context.Context) error {
	select {
	case <-s.stopped:
		return ErrStreamStopped
	default:
	}
	select {
	case <-s.done:
		return nil
	case <-s.stopped:
		return ErrStreamStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements [Stream].
func (s *TimedStream) Stop() {
	s.once.Do(func() {
		s.timer.Stop()
		close(s.stopped)
	})
}
