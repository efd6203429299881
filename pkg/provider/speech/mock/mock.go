// Package mock provides a test double for the speech.Backend interface.
//
// Use Backend to script probe latency, attempt latency and failures, and to
// verify which words were attempted, which playbacks completed and which were
// stopped.
//
// Example:
//
//	b := &mock.Backend{
//	    BackendName:  "fast",
//	    ProbeDelay:   10 * time.Millisecond,
//	    AttemptDelay: 5 * time.Millisecond,
//	}
//	err := b.Attempt(ctx, speech.Request{Word: "hello", Volume: 1})
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// ErrStopped is returned by Attempt when its playback handle was stopped.
var ErrStopped = errors.New("mock: playback stopped")

// AttemptCall records a single invocation of Attempt.
type AttemptCall struct {
	// Word is the word passed in the request.
	Word string
	// Volume is the volume passed in the request.
	Volume float64
	// Start is when the call began.
	Start time.Time
}

// Backend is a mock implementation of speech.Backend and speech.SilentProber.
type Backend struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// BackendName is returned by Name.
	BackendName string

	// BackendKind is returned by Kind. Defaults to speech.KindRemoteAudio.
	BackendKind speech.Kind

	// Unavailable makes Available report false.
	Unavailable bool

	// ProbeDelay is how long SilentProbe takes before returning.
	ProbeDelay time.Duration

	// ProbeErr, if non-nil, is returned by SilentProbe.
	ProbeErr error

	// ProbeFunc, if set, overrides ProbeErr. It receives the 1-based probe
	// call number.
	ProbeFunc func(call int) error

	// Report is returned by a successful SilentProbe.
	Report speech.ProbeReport

	// AttemptDelay is how long a successful playback lasts.
	AttemptDelay time.Duration

	// AttemptErr, if non-nil, is returned by Attempt after AttemptDelay.
	AttemptErr error

	// AttemptFunc, if set, overrides AttemptErr. It receives the 1-based
	// attempt call number and the request.
	AttemptFunc func(call int, req speech.Request) error

	// --- Call records ---

	// AttemptCalls records every call to Attempt in order.
	AttemptCalls []AttemptCall

	// ProbeCalls counts calls to SilentProbe.
	ProbeCalls int

	// Completed lists the words whose playback ran to completion.
	Completed []string

	// Stops counts playbacks halted before completion, either through their
	// handle or because the attempt context ended. Each playback counts once.
	Stops int
}

var (
	_ speech.Backend      = (*Backend)(nil)
	_ speech.SilentProber = (*Backend)(nil)
)

// Name returns BackendName.
func (b *Backend) Name() string { return b.BackendName }

// Kind returns BackendKind, defaulting to speech.KindRemoteAudio.
func (b *Backend) Kind() speech.Kind {
	if b.BackendKind == "" {
		return speech.KindRemoteAudio
	}
	return b.BackendKind
}

// Available reports !Unavailable.
func (b *Backend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.Unavailable
}

// SetUnavailable toggles Available at runtime. Thread-safe.
func (b *Backend) SetUnavailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Unavailable = v
}

// SilentProbe waits ProbeDelay and returns Report or the configured error.
func (b *Backend) SilentProbe(ctx context.Context, _ string) (speech.ProbeReport, error) {
	b.mu.Lock()
	b.ProbeCalls++
	call := b.ProbeCalls
	delay, err, fn, report := b.ProbeDelay, b.ProbeErr, b.ProbeFunc, b.Report
	b.mu.Unlock()

	if err := sleep(ctx, delay, nil); err != nil {
		return speech.ProbeReport{}, err
	}
	if fn != nil {
		err = fn(call)
	}
	if err != nil {
		return speech.ProbeReport{}, err
	}
	return report, nil
}

// Attempt records the call, registers a playback handle, waits AttemptDelay
// and then returns the configured outcome. It returns early with ctx.Err() or
// [ErrStopped].
func (b *Backend) Attempt(ctx context.Context, req speech.Request) error {
	b.mu.Lock()
	b.AttemptCalls = append(b.AttemptCalls, AttemptCall{Word: req.Word, Volume: req.Volume, Start: time.Now()})
	call := len(b.AttemptCalls)
	delay, err, fn := b.AttemptDelay, b.AttemptErr, b.AttemptFunc
	b.mu.Unlock()

	h := &handle{b: b, stopped: make(chan struct{})}
	release := speech.RegistrarOrNop(req.Handles).Track(h)
	defer release()

	if err := sleep(ctx, delay, h.stopped); err != nil {
		// Real backends silence their own output when the context ends.
		h.Stop()
		return err
	}
	if fn != nil {
		err = fn(call, req)
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.Completed = append(b.Completed, req.Word)
	b.mu.Unlock()
	return nil
}

// Attempts returns a copy of the recorded attempt calls. Thread-safe.
func (b *Backend) Attempts() []AttemptCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AttemptCall, len(b.AttemptCalls))
	copy(out, b.AttemptCalls)
	return out
}

// CompletedWords returns a copy of the completed words. Thread-safe.
func (b *Backend) CompletedWords() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Completed))
	copy(out, b.Completed)
	return out
}

// StopCount returns how many playbacks were halted. Thread-safe.
func (b *Backend) StopCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Stops
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AttemptCalls = nil
	b.ProbeCalls = 0
	b.Completed = nil
	b.Stops = 0
}

type handle struct {
	b       *Backend
	once    sync.Once
	stopped chan struct{}
}

func (h *handle) Stop() {
	h.once.Do(func() {
		close(h.stopped)
		h.b.mu.Lock()
		h.b.Stops++
		h.b.mu.Unlock()
	})
}

// sleep waits d, returning early if ctx is done or stopped is closed.
func sleep(ctx context.Context, d time.Duration, stopped <-chan struct{}) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return ErrStopped
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrStopped
	}
}
