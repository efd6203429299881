// Package observe provides application-wide observability primitives for
// pronounce: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pronounce metrics.
const meterName = "github.com/wordtetris/pronounce"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SpeakDuration tracks the wall-clock time of a whole Speak call,
	// including failover and re-probing. Use with attribute:
	//   attribute.String("outcome", ...)
	SpeakDuration metric.Float64Histogram

	// AttemptDuration tracks a single backend attempt. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	AttemptDuration metric.Float64Histogram

	// ProbeDuration tracks silent probe latency per backend. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProbeDuration metric.Float64Histogram

	// --- Counters ---

	// Attempts counts backend attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	Attempts metric.Int64Counter

	// Evictions counts backends removed from the rotation after repeated
	// failures. Use with attribute:
	//   attribute.String("provider", ...)
	Evictions metric.Int64Counter

	// SpeakOutcomes counts finished Speak calls. Use with attribute:
	//   attribute.String("outcome", ...)
	SpeakOutcomes metric.Int64Counter

	// ProbeResults counts probe outcomes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProbeResults metric.Int64Counter

	// --- Gauges ---

	// Candidates reports the current rotation size.
	Candidates metric.Int64Gauge

	// ActiveUtterances tracks Speak calls currently in progress.
	ActiveUtterances metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// short clip playback and remote audio fetches.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SpeakDuration, err = m.Float64Histogram("pronounce.speak.duration",
		metric.WithDescription("Latency of a complete pronunciation request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AttemptDuration, err = m.Float64Histogram("pronounce.attempt.duration",
		metric.WithDescription("Latency of a single backend attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProbeDuration, err = m.Float64Histogram("pronounce.probe.duration",
		metric.WithDescription("Latency of a silent backend probe."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Attempts, err = m.Int64Counter("pronounce.attempts",
		metric.WithDescription("Total backend attempts by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Evictions, err = m.Int64Counter("pronounce.evictions",
		metric.WithDescription("Total backends evicted from the rotation by provider."),
	); err != nil {
		return nil, err
	}
	if met.SpeakOutcomes, err = m.Int64Counter("pronounce.speak.outcomes",
		metric.WithDescription("Total pronunciation requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProbeResults, err = m.Int64Counter("pronounce.probe.results",
		metric.WithDescription("Total backend probes by provider and status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.Candidates, err = m.Int64Gauge("pronounce.candidates",
		metric.WithDescription("Number of backends currently in the rotation."),
	); err != nil {
		return nil, err
	}
	if met.ActiveUtterances, err = m.Int64UpDownCounter("pronounce.active_utterances",
		metric.WithDescription("Number of pronunciation requests in progress."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pronounce.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt records one backend attempt: the counter increment and its
// latency.
func (m *Metrics) RecordAttempt(ctx context.Context, provider, kind, status string, seconds float64) {
	m.Attempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	m.AttemptDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProbe records one probe outcome and its latency.
func (m *Metrics) RecordProbe(ctx context.Context, provider, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProbeResults.Add(ctx, 1, attrs)
	m.ProbeDuration.Record(ctx, seconds, attrs)
}

// RecordEviction records a backend leaving the rotation.
func (m *Metrics) RecordEviction(ctx context.Context, provider string) {
	m.Evictions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordSpeak records a finished Speak call.
func (m *Metrics) RecordSpeak(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.SpeakOutcomes.Add(ctx, 1, attrs)
	m.SpeakDuration.Record(ctx, seconds, attrs)
}

// RecordCandidates sets the current rotation size.
func (m *Metrics) RecordCandidates(ctx context.Context, n int) {
	m.Candidates.Record(ctx, int64(n))
}
