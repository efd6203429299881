// Package speech defines the Backend interface for word pronunciation sources.
//
// A backend wraps one concrete way of making a word audible: an on-device
// synthesis engine (e.g. espeak-ng) or a remote HTTP endpoint that returns an
// audio file for a word (e.g. a dictionary "voice" URL). The failover client in
// internal/resilience treats every backend uniformly through this interface and
// never branches on [Kind].
//
// Implementations must be safe for concurrent use.
package speech

import (
	"context"
)

// Backend is the abstraction over any pronunciation source.
type Backend interface {
	// Name returns the unique identifier of this backend (e.g. "youdao").
	Name() string

	// Kind reports whether the backend synthesises locally or fetches remote
	// audio. Used for logging and metrics only.
	Kind() Kind

	// Available is the cheap, synchronous capability check: does this runtime
	// offer what the backend needs at all (a binary on PATH, a configured URL)?
	// It must not perform network I/O or block.
	Available() bool

	// Attempt makes req.Word audible at req.Volume and returns once playback has
	// finished. It returns an error on any synthesis, network or playback
	// failure, and returns promptly with ctx.Err() when ctx is cancelled.
	//
	// The playback resource must be registered with req.Handles as soon as it
	// exists and released on natural completion.
	Attempt(ctx context.Context, req Request) error
}

// SilentProber is implemented by backends that can verify themselves without
// producing audible output, for example by downloading and decoding the audio
// without playing it. Backends that do not implement it are probed with an
// [Backend.Attempt] at volume 0.
type SilentProber interface {
	// SilentProbe performs a real but inaudible synthesis or fetch of word.
	SilentProbe(ctx context.Context, word string) (ProbeReport, error)
}

// Handle is an in-flight playback resource that can be halted at any time.
// Stop must be idempotent and must not block on the resource finishing.
type Handle interface {
	Stop()
}

// Registrar tracks playback handles on behalf of the caller of Attempt.
type Registrar interface {
	// Track registers h and returns a release func that deregisters it.
	// Calling release more than once, or after the handle was stopped by the
	// registrar, is a no-op.
	Track(h Handle) (release func())
}

// HandleFunc adapts a plain function to [Handle].
type HandleFunc func()

// Stop calls f.
func (f HandleFunc) Stop() { f() }
