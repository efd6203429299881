package resilience

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/playback"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Prober runs one probe per backend concurrently and ranks the survivors by
// latency.
type Prober struct {
	word            string
	timeout         time.Duration
	onDeviceTimeout time.Duration
	metrics         *observe.Metrics
}

// probeOutcome is the result slot for one backend.
type probeOutcome struct {
	cand *Candidate
	err  error
}

// errProbeSkipped marks a backend whose cheap capability check failed.
var errProbeSkipped = errors.New("capability check failed")

// Probe checks every backend and returns the candidates that passed, sorted
// ascending by probe latency. Backends with equal latency keep their
// configured order. A slow backend never delays the others beyond its own
// timeout.
func (p *Prober) Probe(ctx context.Context, backends []speech.Backend) []*Candidate {
	start := time.Now()
	outcomes := make([]probeOutcome, len(backends))

	// Per-backend errors are recorded in outcomes; the group only fans out.
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			outcomes[i] = p.probeOne(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	cands := make([]*Candidate, 0, len(backends))
	for _, o := range outcomes {
		if o.err == nil {
			cands = append(cands, o.cand)
		}
	}
	slices.SortStableFunc(cands, func(a, b *Candidate) int {
		return cmp.Compare(a.ResponseTime, b.ResponseTime)
	})

	ranked := make([]string, len(cands))
	for i, c := range cands {
		ranked[i] = fmt.Sprintf("%s(%dms)", c.Name(), c.ResponseTime.Milliseconds())
	}
	slog.Info("speech backends probed",
		"eligible", len(cands),
		"configured", len(backends),
		"ranking", strings.Join(ranked, " > "),
		"elapsed", time.Since(start))
	return cands
}

func (p *Prober) probeOne(ctx context.Context, b speech.Backend) (out probeOutcome) {
	name := b.Name()
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, observe.SpanProbe)
	span.SetAttributes(observe.Attr(observe.AttrProvider, name))

	defer func() {
		if r := recover(); r != nil {
			out = probeOutcome{err: fmt.Errorf("%w: %v", errAttemptPanic, r)}
		}
		status := string(CauseOK)
		switch {
		case errors.Is(out.err, errProbeSkipped):
			status = "skipped"
		case out.err != nil:
			status = string(Classify(out.err))
		}
		span.SetAttributes(observe.Attr(observe.AttrStatus, status))
		if errors.Is(out.err, errProbeSkipped) {
			observe.EndSpan(span, nil)
		} else {
			observe.EndSpan(span, out.err)
		}
		if p.metrics != nil {
			p.metrics.RecordProbe(ctx, name, status, time.Since(start).Seconds())
		}
		if out.err != nil {
			slog.Debug("speech backend probe failed",
				"provider", name, "status", status, "err", out.err)
		}
	}()

	if !b.Available() {
		return probeOutcome{err: errProbeSkipped}
	}

	timeout := p.timeout
	if b.Kind() == speech.KindOnDevice {
		timeout = p.onDeviceTimeout
	}
	pctx, cancel := context.WithTimeoutCause(ctx, timeout, errAttemptTimeout)
	defer cancel()

	report, err := silentCheck(pctx, b, p.word)
	if err == nil && pctx.Err() != nil {
		// Finished, but only after its deadline.
		err = context.Cause(pctx)
	}
	if err != nil {
		return probeOutcome{err: err}
	}

	return probeOutcome{cand: &Candidate{
		Backend:           b,
		ResponseTime:      time.Since(start),
		NeedsVerification: report.Degraded,
		Detail:            report.Detail,
	}}
}

// silentCheck performs a real but inaudible check. Backends without a
// dedicated silent path are attempted at zero volume and any playback they
// leave behind is stopped. The check is abandoned when ctx is done even if
// the backend ignores ctx.
func silentCheck(ctx context.Context, b speech.Backend, word string) (speech.ProbeReport, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	var handles playback.Set
	defer func() {
		cancel(context.Canceled)
		handles.StopAll()
	}()

	type result struct {
		report speech.ProbeReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", errAttemptPanic, r)}
			}
		}()
		if sp, ok := b.(speech.SilentProber); ok {
			report, err := sp.SilentProbe(ctx, word)
			done <- result{report: report, err: err}
			return
		}
		err := b.Attempt(ctx, speech.Request{Word: word, Volume: 0, Handles: scopedRegistrar{ctx: ctx, set: &handles}})
		done <- result{err: err}
	}()

	select {
	case r := <-done:
		return r.report, r.err
	case <-ctx.Done():
		return speech.ProbeReport{}, context.Cause(ctx)
	}
}
