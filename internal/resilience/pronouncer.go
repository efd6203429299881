// Package resilience makes a single word audible on top of several unreliable
// speech backends.
//
// The central type is [Pronouncer]. It probes every configured backend
// concurrently, ranks the survivors by probe latency and walks that rotation
// on each [Pronouncer.Speak] call: every attempt is raced against a timeout,
// failing backends are demoted to the back of the rotation and evicted after
// [EvictionThreshold] consecutive failures. When the rotation is exhausted the
// backends are re-probed once before the call gives up.
//
// At most one utterance is audible at a time. A new Speak cancels the one in
// flight and [Pronouncer.Stop] halts everything immediately.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/playback"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

var (
	// ErrNoCandidates is returned by Speak when no backend passed the most
	// recent probe cycle.
	ErrNoCandidates = errors.New("resilience: no speech backend available")

	// ErrAllProvidersExhausted is returned by Speak when every backend failed,
	// including after one re-probe. It wraps the last attempt error.
	ErrAllProvidersExhausted = errors.New("resilience: all speech backends failed")

	// ErrCanceled is returned by Speak when the call was superseded by a newer
	// Speak, halted by Stop or Close, or its context was cancelled.
	ErrCanceled = errors.New("resilience: pronunciation canceled")
)

var (
	errPreempted = errors.New("superseded by a newer pronunciation")
	errStopped   = errors.New("stopped")
	errAbandoned = errors.New("attempt abandoned")
	errClosed    = errors.New("pronouncer closed")
)

// Result describes a successful pronunciation.
type Result struct {
	// UtteranceID identifies the Speak call in logs.
	UtteranceID string

	// Provider is the name of the backend that made the word audible.
	Provider string

	// Elapsed is the duration of the successful attempt.
	Elapsed time.Duration

	// Retried is set when success came only after a re-probe.
	Retried bool
}

// ProviderInfo describes one backend in the current rotation.
type ProviderInfo struct {
	Name                string        `json:"name"`
	Kind                speech.Kind   `json:"kind"`
	ResponseTime        time.Duration `json:"response_time"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NeedsVerification   bool          `json:"needs_verification"`
	Detail              string        `json:"detail,omitempty"`
	Current             bool          `json:"current"`
}

// Pronouncer is the failover client. Create one with [New] at startup and
// share it.
type Pronouncer struct {
	backends       []speech.Backend
	prober         *Prober
	tracker        *Tracker
	attemptTimeout time.Duration
	showErrors     bool
	notifier       Notifier
	metrics        *observe.Metrics

	handles playback.Set
	probes  singleflight.Group

	// turn serialises Speak bodies so attempts never overlap.
	turn sync.Mutex

	mu            sync.Mutex
	rot           *rotation
	index         int
	gen           uint64
	probed        bool
	closed        bool
	cancelCurrent context.CancelCauseFunc
	seq           uint64

	speaking atomic.Bool
}

// New creates a Pronouncer over backends. Backend names must be unique.
// No probing happens until [Pronouncer.Initialize] or the first Speak.
func New(backends []speech.Backend, opts ...Option) *Pronouncer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	bs := make([]speech.Backend, len(backends))
	copy(bs, backends)

	return &Pronouncer{
		backends: bs,
		prober: &Prober{
			word:            o.probeWord,
			timeout:         o.probeTimeout,
			onDeviceTimeout: o.onDeviceProbeTimeout + o.voiceListWait,
			metrics:         o.metrics,
		},
		tracker:        NewTracker(o.threshold),
		attemptTimeout: o.attemptTimeout,
		showErrors:     o.showErrors,
		notifier:       o.notifier,
		metrics:        o.metrics,
		rot:            newRotation(nil),
	}
}

// Initialize runs the first probe cycle. It is a no-op once a cycle has
// completed; concurrent callers share a single cycle. It returns
// [ErrNoCandidates] when no backend passed, or ctx.Err() when ctx ends first
// (the cycle itself keeps running and its result is still installed).
func (p *Pronouncer) Initialize(ctx context.Context) error {
	return p.probe(ctx, false)
}

// Reprobe discards the current rotation and runs a fresh probe cycle.
// Failure counts below the eviction threshold are kept; evicted backends
// that pass the probe start again from zero.
func (p *Pronouncer) Reprobe(ctx context.Context) error {
	return p.probe(ctx, true)
}

// probe runs a probe cycle, or joins the one in flight. Without force it
// returns the installed result when a cycle already completed.
func (p *Pronouncer) probe(ctx context.Context, force bool) error {
	ch := p.probes.DoChan("probe", func() (any, error) {
		if !force {
			p.mu.Lock()
			probed, n := p.probed, p.rot.Len()
			p.mu.Unlock()
			if probed {
				if n == 0 {
					return nil, ErrNoCandidates
				}
				return nil, nil
			}
		}
		cands := p.prober.Probe(context.WithoutCancel(ctx), p.backends)
		p.install(cands)
		if len(cands) == 0 {
			return nil, ErrNoCandidates
		}
		return nil, nil
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pronouncer) install(cands []*Candidate) {
	for _, c := range cands {
		if p.tracker.Readmit(c.Name()) {
			slog.Info("evicted speech backend readmitted by probe", "provider", c.Name())
		}
	}
	p.mu.Lock()
	p.rot = newRotation(cands)
	p.index = 0
	p.gen++
	p.probed = true
	p.mu.Unlock()
	p.recordCandidates(len(cands))
}

func (p *Pronouncer) clearRotation() {
	p.mu.Lock()
	p.rot.Reset()
	p.index = 0
	p.gen++
	p.probed = false
	p.mu.Unlock()
	p.recordCandidates(0)
}

// Speak pronounces word with the best available backend and returns once the
// audio has finished playing.
//
// An empty or blank word is ignored and returns a zero Result with a nil
// error. Any Speak already in flight is cancelled first. The returned error is
// nil, [ErrNoCandidates], [ErrAllProvidersExhausted] or [ErrCanceled];
// individual backend failures are never returned.
func (p *Pronouncer) Speak(ctx context.Context, word string, opts ...SpeakOption) (Result, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return Result{}, nil
	}

	o := speakOptions{
		volume:    1,
		timeout:   p.attemptTimeout,
		showError: p.showErrors,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanSpeak)
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	seq, ok := p.preempt(cancel)
	defer p.finish(seq)
	if !ok {
		observe.EndSpan(span, context.Canceled)
		return Result{}, ErrCanceled
	}

	p.turn.Lock()
	defer p.turn.Unlock()

	id := uuid.NewString()
	span.SetAttributes(observe.Attr(observe.AttrUtteranceID, id))
	log := observe.Logger(ctx).With("utterance_id", id, "word", word)
	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActiveUtterances.Add(ctx, 1)
		defer p.metrics.ActiveUtterances.Add(ctx, -1)
	}

	res, err := p.speak(sctx, log, word, o, false)
	res.UtteranceID = id

	if p.metrics != nil {
		p.metrics.RecordSpeak(ctx, outcomeOf(err), time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		span.SetAttributes(observe.Attr(observe.AttrProvider, res.Provider))
		if o.onSuccess != nil {
			o.onSuccess(res.Provider, res.Elapsed)
		}
	case errors.Is(err, ErrCanceled):
		log.Info("pronunciation canceled", "cause", context.Cause(sctx))
	default:
		log.Error("word not pronounced", "err", err, "retried", res.Retried)
		if o.onError != nil {
			o.onError(err)
		}
		if o.showError && p.notifier != nil {
			p.notifier.Notify(context.WithoutCancel(ctx), noticeFor(err))
		}
	}
	observe.EndSpan(span, spanErr(err))
	return res, err
}

// spanErr maps cancellation to [context.Canceled] so spans do not report a
// superseded utterance as a failure.
func spanErr(err error) error {
	if errors.Is(err, ErrCanceled) {
		return context.Canceled
	}
	return err
}

// speak is one pass over the rotation. retry is set on the single recursive
// pass that follows a re-probe.
func (p *Pronouncer) speak(ctx context.Context, log *slog.Logger, word string, o speakOptions, retry bool) (Result, error) {
	if !p.isProbed() {
		if err := p.probe(ctx, false); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNoCandidates) {
			log.Warn("probe cycle failed", "err", err)
		}
	}
	if ctx.Err() != nil {
		return Result{Retried: retry}, ErrCanceled
	}

	p.mu.Lock()
	n := p.rot.Len()
	p.mu.Unlock()
	if n == 0 {
		return Result{Retried: retry}, ErrNoCandidates
	}

	var lastErr error
	for range n {
		cand, gen, pos, total, ok := p.current()
		if !ok {
			break
		}
		name := cand.Name()

		elapsed, err := p.attempt(ctx, cand, word, o)
		if ctx.Err() != nil {
			// Cancelled by the caller; the backend is not at fault.
			return Result{Retried: retry}, ErrCanceled
		}
		if err == nil {
			p.succeeded(cand)
			log.Info("word pronounced",
				"provider", name,
				"elapsed", elapsed,
				"retried", retry)
			return Result{Provider: name, Elapsed: elapsed, Retried: retry}, nil
		}

		lastErr = fmt.Errorf("%s: %w", name, err)
		p.failed(ctx, log, cand, gen, err, pos, total)
	}

	if !retry {
		log.Info("speech rotation exhausted, re-probing backends")
		p.clearRotation()
		return p.speak(ctx, log, word, o, true)
	}
	if lastErr == nil {
		return Result{Retried: true}, ErrAllProvidersExhausted
	}
	return Result{Retried: true}, fmt.Errorf("%w: %w", ErrAllProvidersExhausted, lastErr)
}

// attempt races one backend attempt against the timeout and the Speak
// context. The loser is cancelled and any playback it started is stopped.
func (p *Pronouncer) attempt(ctx context.Context, cand *Candidate, word string, o speakOptions) (time.Duration, error) {
	b := cand.Backend

	// Single active utterance: nothing from earlier attempts may keep playing.
	p.handles.StopAll()
	p.speaking.Store(true)
	defer p.speaking.Store(false)

	tctx, span := observe.StartSpan(ctx, observe.SpanAttempt)
	span.SetAttributes(
		observe.Attr(observe.AttrProvider, b.Name()),
		observe.Attr(observe.AttrKind, string(b.Kind())),
	)
	actx, cancel := context.WithCancelCause(tctx)
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", errAttemptPanic, r)
			}
		}()
		done <- b.Attempt(actx, speech.Request{
			Word:    word,
			Volume:  o.volume,
			Handles: scopedRegistrar{ctx: actx, set: &p.handles},
		})
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("%w after %s", errAttemptTimeout, o.timeout)
	case <-ctx.Done():
		err = context.Cause(ctx)
	}
	elapsed := time.Since(start)

	// A late result from the abandoned goroutine lands in the buffered
	// channel and is dropped.
	cancel(errAbandoned)
	if err != nil {
		p.handles.StopAll()
	}

	status := Classify(err)
	traceErr := err
	if ctx.Err() != nil {
		status, traceErr = CauseCanceled, context.Canceled
	}
	span.SetAttributes(observe.Attr(observe.AttrStatus, string(status)))
	observe.EndSpan(span, traceErr)
	if p.metrics != nil {
		p.metrics.RecordAttempt(ctx, b.Name(), string(b.Kind()), string(status), elapsed.Seconds())
	}
	return elapsed, err
}

// current returns the candidate at the current index together with the
// rotation generation and its 1-based position for logging.
func (p *Pronouncer) current() (cand *Candidate, gen uint64, pos, total int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rot.Len() == 0 {
		return nil, 0, 0, 0, false
	}
	if p.index >= p.rot.Len() {
		p.index = 0
	}
	return p.rot.At(p.index), p.gen, p.index + 1, p.rot.Len(), true
}

// succeeded resets failure bookkeeping. The index stays where it is so the
// next Speak starts with the same backend.
func (p *Pronouncer) succeeded(cand *Candidate) {
	p.tracker.RecordSuccess(cand.Name())
	p.mu.Lock()
	cand.NeedsVerification = false
	p.mu.Unlock()
}

// failed records a failed attempt and demotes or evicts the candidate.
func (p *Pronouncer) failed(ctx context.Context, log *slog.Logger, cand *Candidate, gen uint64, err error, pos, total int) {
	name := cand.Name()
	cause := Classify(err)
	count, evict := p.tracker.RecordFailure(name)

	attrs := []any{
		"provider", name,
		"cause", cause,
		"position", fmt.Sprintf("%d/%d", pos, total),
		"consecutive_failures", count,
		"err", err,
	}
	if h := cause.hint(); h != "" {
		attrs = append(attrs, "hint", h)
	}
	log.Warn("speech backend attempt failed", attrs...)

	p.mu.Lock()
	if gen != p.gen {
		// The rotation was rebuilt by a concurrent probe while we waited.
		p.mu.Unlock()
		return
	}
	i := p.index
	if p.rot.At(i) != cand {
		i = p.rot.IndexOf(name)
	}
	if evict {
		p.rot.Remove(i)
	} else {
		// The next candidate shifts into the current slot.
		p.rot.MoveToBack(i)
	}
	if p.index >= p.rot.Len() {
		p.index = 0
	}
	remaining := p.rot.Len()
	p.mu.Unlock()

	if evict {
		log.Error("speech backend evicted until next probe cycle",
			"provider", name,
			"consecutive_failures", count,
			"remaining", remaining)
		if p.metrics != nil {
			p.metrics.RecordEviction(ctx, name)
		}
		p.recordCandidates(remaining)
	}
}

// preempt makes the caller the current Speak, cancelling the previous one and
// silencing whatever it was playing.
func (p *Pronouncer) preempt(cancel context.CancelCauseFunc) (uint64, bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel(errClosed)
		return 0, false
	}
	if p.cancelCurrent != nil {
		p.cancelCurrent(errPreempted)
	}
	p.cancelCurrent = cancel
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.handles.StopAll()
	return seq, true
}

func (p *Pronouncer) finish(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq == seq {
		p.cancelCurrent = nil
	}
}

// Stop halts every playback immediately and cancels the Speak in flight, if
// any. It is safe to call at any time.
func (p *Pronouncer) Stop() {
	p.mu.Lock()
	cancel := p.cancelCurrent
	p.cancelCurrent = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel(errStopped)
	}
	n := p.handles.StopAll()
	p.speaking.Store(false)

	if cancel != nil || n > 0 {
		slog.Debug("pronunciation stopped", "handles", n)
	}
}

// Close stops any utterance in flight and makes every later Speak return
// [ErrCanceled] without touching a backend. Call it on a Pronouncer that has
// been replaced, so a request still holding it cannot play over its
// successor. Close is idempotent.
func (p *Pronouncer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
}

// Speaking reports whether an attempt is currently playing or loading.
func (p *Pronouncer) Speaking() bool { return p.speaking.Load() }

// Probed reports whether a probe cycle has completed since the last reset.
func (p *Pronouncer) Probed() bool { return p.isProbed() }

func (p *Pronouncer) isProbed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probed
}

// AvailableProviders returns the backend names in rotation order.
func (p *Pronouncer) AvailableProviders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rot.Names()
}

// CurrentProvider returns the backend the next Speak will try first.
func (p *Pronouncer) CurrentProvider() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rot.Len() == 0 {
		return "", false
	}
	i := p.index
	if i >= p.rot.Len() {
		i = 0
	}
	return p.rot.At(i).Name(), true
}

// Providers returns details about every backend in the rotation, in rotation
// order.
//
// ConsecutiveFailures is the tracker's count, which outlives probe cycles: a
// backend that failed once or twice and then passed a re-probe still reports
// those failures, and is evicted once the count reaches the threshold. Only a
// successful attempt clears it, except that a backend readmitted after
// eviction starts from zero.
func (p *Pronouncer) Providers() []ProviderInfo {
	failures := p.tracker.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderInfo, 0, p.rot.Len())
	for i := range p.rot.Len() {
		c := p.rot.At(i)
		out = append(out, ProviderInfo{
			Name:                c.Name(),
			Kind:                c.Backend.Kind(),
			ResponseTime:        c.ResponseTime,
			ConsecutiveFailures: failures[c.Name()],
			NeedsVerification:   c.NeedsVerification,
			Detail:              c.Detail,
			Current:             i == p.index,
		})
	}
	return out
}

func (p *Pronouncer) recordCandidates(n int) {
	if p.metrics != nil {
		p.metrics.RecordCandidates(context.Background(), n)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	default:
		return "exhausted"
	}
}
