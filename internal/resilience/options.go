package resilience

import (
	"time"

	"github.com/wordtetris/pronounce/internal/observe"
)

// Default probing and attempt parameters.
const (
	// DefaultProbeWord is pronounced silently to verify each backend.
	DefaultProbeWord = "see"

	// DefaultProbeTimeout bounds the probe of a remote backend.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultOnDeviceProbeTimeout bounds the synthesis part of an on-device
	// probe. The voice-list wait is added on top.
	DefaultOnDeviceProbeTimeout = 1 * time.Second

	// DefaultVoiceListWait is how long an on-device probe may wait for a
	// lazily loaded voice list.
	DefaultVoiceListWait = 2 * time.Second

	// DefaultAttemptTimeout is the per-attempt race timeout of Speak.
	DefaultAttemptTimeout = 3 * time.Second
)

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	probeWord            string
	probeTimeout         time.Duration
	onDeviceProbeTimeout time.Duration
	voiceListWait        time.Duration
	attemptTimeout       time.Duration
	threshold            int
	showErrors           bool
	notifier             Notifier
	metrics              *observe.Metrics
}

func defaultOptions() options {
	return options{
		probeWord:            DefaultProbeWord,
		probeTimeout:         DefaultProbeTimeout,
		onDeviceProbeTimeout: DefaultOnDeviceProbeTimeout,
		voiceListWait:        DefaultVoiceListWait,
		attemptTimeout:       DefaultAttemptTimeout,
		threshold:            EvictionThreshold,
		showErrors:           true,
		notifier:             LogNotifier{},
	}
}

// WithProbeWord sets the word used for silent probes.
func WithProbeWord(w string) Option {
	return func(o *options) {
		if w != "" {
			o.probeWord = w
		}
	}
}

// WithProbeTimeout sets the remote backend probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithOnDeviceProbeTimeout sets the on-device synthesis probe timeout.
func WithOnDeviceProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.onDeviceProbeTimeout = d
		}
	}
}

// WithVoiceListWait sets how long on-device probes may wait for voices.
// A negative value disables the extra wait.
func WithVoiceListWait(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.voiceListWait = d
	}
}

// WithAttemptTimeout sets the default per-attempt timeout of Speak.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithEvictionThreshold overrides [EvictionThreshold]. Intended for tests.
func WithEvictionThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.threshold = n
		}
	}
}

// WithShowErrors sets whether terminal failures reach the [Notifier] by
// default. Individual calls may override it with [WithShowError].
func WithShowErrors(v bool) Option {
	return func(o *options) { o.showErrors = v }
}

// WithNotifier sets the receiver of user-visible failure notices.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics records probe, attempt and speak metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// SpeakOption customises a single [Pronouncer.Speak] call.
type SpeakOption func(*speakOptions)

type speakOptions struct {
	volume    float64
	timeout   time.Duration
	showError bool
	onSuccess func(provider string, elapsed time.Duration)
	onError   func(err error)
}

// WithVolume sets the playback volume in [0, 1]. Out-of-range values are
// clamped. Default 1.
func WithVolume(v float64) SpeakOption {
	return func(o *speakOptions) { o.volume = min(max(v, 0), 1) }
}

// WithTimeout sets the per-attempt timeout. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) SpeakOption {
	return func(o *speakOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithShowError controls whether a terminal failure of this call is sent to
// the [Notifier].
func WithShowError(v bool) SpeakOption {
	return func(o *speakOptions) { o.showError = v }
}

// WithOnSuccess registers a callback invoked with the backend name and the
// attempt duration when the word was pronounced.
func WithOnSuccess(fn func(provider string, elapsed time.Duration)) SpeakOption {
	return func(o *speakOptions) { o.onSuccess = fn }
}

// WithOnError registers a callback invoked with the terminal error when the
// word could not be pronounced. It is not called when the call is canceled.
func WithOnError(fn func(err error)) SpeakOption {
	return func(o *speakOptions) { o.onError = fn }
}
