package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wordtetris/pronounce/internal/suggest"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
	"github.com/wordtetris/pronounce/pkg/provider/speech/remote"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero Config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v is out of range [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Speech
	durations := []struct {
		field string
		value int64
	}{
		{"speech.probe_timeout", int64(cfg.Speech.ProbeTimeout)},
		{"speech.on_device_probe_timeout", int64(cfg.Speech.OnDeviceProbeTimeout)},
		{"speech.voice_list_wait", int64(cfg.Speech.VoiceListWait)},
		{"speech.attempt_timeout", int64(cfg.Speech.AttemptTimeout)},
		{"audio.buffer_size", int64(cfg.Audio.BufferSize)},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.field))
		}
	}

	// Audio
	if cfg.Audio.Output != "" && !cfg.Audio.Output.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output %q is invalid; valid values: device, null", cfg.Audio.Output))
	}
	if sr := cfg.Audio.SampleRate; sr != 0 && (sr < 8000 || sr > 192000) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", sr))
	}
	if ch := cfg.Audio.Channels; ch != 0 && ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", ch))
	}

	// Backends
	if len(cfg.Backends) == 0 {
		slog.Warn("no speech backends configured; every pronunciation will fail")
	}
	seen := make(map[string]int, len(cfg.Backends))
	for i, b := range cfg.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[b.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of backends[%d]", prefix, b.Name, prev))
			}
			seen[b.Name] = i
		}
		if !b.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: %s, %s%s", prefix, b.Kind, speech.KindRemoteAudio, speech.KindOnDevice,
				didYouMean(string(b.Kind), []string{string(speech.KindRemoteAudio), string(speech.KindOnDevice)})))
			continue
		}
		if b.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("%s.requests_per_minute must not be negative", prefix))
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if _, _, err := b.OptionInt("rate"); err != nil {
			errs = append(errs, fmt.Errorf("%s.options: %w", prefix, err))
		}

		if b.Kind == speech.KindRemoteAudio {
			if _, err := ResolveURL(b); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
		}
	}

	return errors.Join(errs...)
}

// ResolveURL returns the URL template of a remote backend entry: its URL, or
// the preset named by Preset, or the preset named like the backend itself.
func ResolveURL(b BackendEntry) (string, error) {
	if b.URL != "" {
		if b.Preset != "" {
			if _, ok := remote.Preset(b.Preset); !ok {
				attrs := []any{"backend", b.Name, "preset", b.Preset, "known", remote.PresetNames()}
				if near, ok := suggest.Closest(b.Preset, remote.PresetNames()); ok {
					attrs = append(attrs, "did_you_mean", near)
				}
				slog.Warn("unknown remote preset ignored because url is set", attrs...)
			}
		}
		if err := remote.ValidateTemplate(b.URL); err != nil {
			return "", err
		}
		return b.URL, nil
	}

	preset := b.Preset
	if preset == "" {
		preset = b.Name
	}
	u, ok := remote.Preset(preset)
	if !ok {
		return "", fmt.Errorf("url is required: %q is not a built-in preset (known: %v)%s", preset, remote.PresetNames(), didYouMean(preset, remote.PresetNames()))
	}
	return u, nil
}

// didYouMean formats a hint naming the candidate closest to got, or returns
// "" when none is close.
func didYouMean(got string, candidates []string) string {
	near, ok := suggest.Closest(got, candidates)
	if !ok {
		return ""
	}
	return fmt.Sprintf("; did you mean %q?", near)
}
