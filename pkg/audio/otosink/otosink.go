// Package otosink plays PCM clips on the host's default audio device using
// github.com/ebitengine/oto/v3.
//
// oto permits a single context per process, so create one Sink at startup and
// share it between every backend.
package otosink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/wordtetris/pronounce/pkg/audio"
)

const (
	defaultBufferSize = 80 * time.Millisecond
	readyTimeout      = 5 * time.Second

	// pollInterval is how often a stream checks whether its player drained.
	pollInterval = 20 * time.Millisecond
)

// Sink is an [audio.Sink] backed by an oto context.
type Sink struct {
	ctx    *oto.Context
	format audio.Format
}

var _ audio.Sink = (*Sink)(nil)

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	bufferSize time.Duration
}

// WithBufferSize overrides the device buffer length.
func WithBufferSize(d time.Duration) Option {
	return func(o *options) { o.bufferSize = d }
}

// New opens the default output device for 16-bit PCM in format.
func New(format audio.Format, opts ...Option) (*Sink, error) {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("otosink: invalid format %+v", format)
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   o.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("otosink: create context: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(readyTimeout):
		return nil, fmt.Errorf("otosink: device not ready after %s", readyTimeout)
	}

	slog.Debug("otosink: audio device ready",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"buffer", o.bufferSize,
	)
	return &Sink{ctx: octx, format: format}, nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return s.format }

// Play implements [audio.Sink]. The clip must already be in s.Format().
func (s *Sink) Play(_ context.Context, clip audio.Clip, volume float64) (audio.Stream, error) {
	if clip.Format != s.format {
		return nil, fmt.Errorf("otosink: clip format %+v does not match device format %+v", clip.Format, s.format)
	}
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("otosink: device: %w", err)
	}

	p := s.ctx.NewPlayer(bytes.NewReader(clip.Data))
	p.SetVolume(volume)
	p.Play()

	st := &stream{
		player:  p,
		done:    make(chan error, 1),
		stopped: make(chan struct{}),
	}
	go st.watch()
	return st, nil
}

type stream struct {
	player *oto.Player

	done    chan error
	stopped chan struct{}
	once    sync.Once
}

// watch polls the player until it drains or the stream is stopped. oto has no
// completion callback.
func (st *stream) watch() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-st.stopped:
			return
		case <-t.C:
			if st.player.IsPlaying() {
				continue
			}
			err := st.player.Err()
			st.release()
			if err != nil {
				st.done <- fmt.Errorf("otosink: playback: %w", err)
			} else {
				st.done <- nil
			}
			return
		}
	}
}

func (st *stream) Wait(ctx context.Context) error {
	select {
	case err := <-st.done:
		// Let later Wait calls observe the same result.
		st.done <- err
		return err
	case <-st.stopped:
		return audio.ErrStreamStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *stream) Stop() {
	st.once.Do(func() {
		close(st.stopped)
		st.player.Pause()
		if err := st.player.Close(); err != nil {
			slog.Debug("otosink: close player", "err", err)
		}
	})
}

// release closes the player after natural completion.
func (st *stream) release() {
	st.once.Do(func() {
		if err := st.player.Close(); err != nil {
			slog.Debug("otosink: close player", "err", err)
		}
	})
}
