// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for the pronounce daemon.
package config

import (
	"fmt"
	"time"

	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioOutput selects the audio sink implementation.
type AudioOutput string

const (
	// AudioOutputDevice plays through the system audio device (oto).
	AudioOutputDevice AudioOutput = "device"

	// AudioOutputNull discards audio but keeps realistic timing. Useful on
	// headless hosts and in CI.
	AudioOutputNull AudioOutput = "null"
)

// IsValid reports whether o is a recognised output.
func (o AudioOutput) IsValid() bool {
	return o == AudioOutputDevice || o == AudioOutputNull
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Speech   SpeechConfig   `yaml:"speech"`
	Audio    AudioConfig    `yaml:"audio"`
	Backends []BackendEntry `yaml:"backends"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP control surface (e.g., ":8088").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// EventOrigins lists host patterns (e.g., "*.example.com") of pages
	// allowed to open the /v1/events websocket from another origin.
	EventOrigins []string `yaml:"event_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SpeechConfig tunes the failover client. Zero values select the built-in
// defaults.
type SpeechConfig struct {
	// ProbeWord is the word synthesised by every probe. Default "see".
	ProbeWord string `yaml:"probe_word"`

	// ProbeTimeout bounds a remote backend probe. Default 2s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// OnDeviceProbeTimeout bounds an on-device probe, not counting the voice
	// list wait. Default 1s.
	OnDeviceProbeTimeout time.Duration `yaml:"on_device_probe_timeout"`

	// VoiceListWait is how long on-device engines wait for their voice list.
	// Default 2s.
	VoiceListWait time.Duration `yaml:"voice_list_wait"`

	// AttemptTimeout bounds a single attempt during Speak. Default 3s.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// ShowErrors routes terminal failures to the notifier. Default true.
	ShowErrors *bool `yaml:"show_errors"`
}

// ShowErrorsOrDefault returns ShowErrors, defaulting to true.
func (s SpeechConfig) ShowErrorsOrDefault() bool {
	return s.ShowErrors == nil || *s.ShowErrors
}

// AudioConfig selects and configures the output device.
type AudioConfig struct {
	// Output is "device" (default) or "null".
	Output AudioOutput `yaml:"output"`

	// SampleRate of the output device in Hz. Default 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the output device, 1 or 2. Default 1.
	Channels int `yaml:"channels"`

	// BufferSize is the device buffer duration. Zero uses the driver default.
	BufferSize time.Duration `yaml:"buffer_size"`
}

// BackendEntry declares one speech backend. Kind selects the factory in the
// [Registry]; the remaining fields are interpreted by that factory.
type BackendEntry struct {
	// Name is the unique backend name used in logs, metrics and the API.
	Name string `yaml:"name"`

	// Kind is "remote_audio" or "on_device".
	Kind speech.Kind `yaml:"kind"`

	// URL is the remote endpoint template containing {word}.
	URL string `yaml:"url"`

	// Preset names a built-in remote endpoint ("youdao", "baidu", "bing").
	// When both URL and Preset are empty the backend name is tried as a preset.
	Preset string `yaml:"preset"`

	// RequestsPerMinute throttles a remote endpoint. Zero disables throttling.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Timeout is the HTTP client timeout for a remote download.
	Timeout time.Duration `yaml:"timeout"`

	// Accent is the preferred on-device voice language (e.g., "en-gb").
	Accent string `yaml:"accent"`

	// Binary overrides the on-device engine path.
	Binary string `yaml:"binary"`

	// Options holds backend-specific values not covered above, such as the
	// on-device speaking rate.
	Options map[string]any `yaml:"options"`
}

// OptionInt returns Options[key] as an int. ok is false when the key is
// missing; an error is returned when it has a non-integer value.
func (e BackendEntry) OptionInt(key string) (v int, ok bool, err error) {
	raw, ok := e.Options[key]
	if !ok {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, true, fmt.Errorf("config: backend %q: option %q must be an integer, got %v", e.Name, key, n)
		}
		return int(n), true, nil
	default:
		return 0, true, fmt.Errorf("config: backend %q: option %q must be an integer, got %T", e.Name, key, raw)
	}
}
