package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wordtetris/pronounce/internal/config"
	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8088"
  log_level: info

speech:
  probe_word: see
  probe_timeout: 2s
  attempt_timeout: 3s
  voice_list_wait: 1500ms
  show_errors: false

audio:
  output: "null"
  sample_rate: 24000
  channels: 1

backends:
  - name: youdao
    kind: remote_audio
    requests_per_minute: 120
  - name: dictionary
    kind: remote_audio
    url: "https://example.com/voice?w={word}"
    timeout: 5s
  - name: espeak
    kind: on_device
    accent: en-gb
    options:
      rate: 150
`

// stubBackend is a minimal speech.Backend built by test factories.
type stubBackend struct {
	name string
	kind speech.Kind
}

func (s stubBackend) Name() string                                  { return s.name }
func (s stubBackend) Kind() speech.Kind                             { return s.kind }
func (s stubBackend) Available() bool                               { return true }
func (s stubBackend) Attempt(context.Context, speech.Request) error { return nil }

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8088" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Speech.ProbeTimeout != 2*time.Second || cfg.Speech.VoiceListWait != 1500*time.Millisecond {
		t.Errorf("speech durations: %+v", cfg.Speech)
	}
	if cfg.Speech.ShowErrorsOrDefault() {
		t.Error("show_errors: got true, want false")
	}
	if cfg.Audio.Output != config.AudioOutputNull {
		t.Errorf("audio.output: got %q", cfg.Audio.Output)
	}
	if len(cfg.Backends) != 3 {
		t.Fatalf("backends: got %d, want 3", len(cfg.Backends))
	}
	if cfg.Backends[0].RequestsPerMinute != 120 {
		t.Errorf("requests_per_minute: got %d", cfg.Backends[0].RequestsPerMinute)
	}
	if cfg.Backends[1].Timeout != 5*time.Second {
		t.Errorf("timeout: got %v", cfg.Backends[1].Timeout)
	}
	if cfg.Backends[2].Kind != speech.KindOnDevice {
		t.Errorf("kind: got %q", cfg.Backends[2].Kind)
	}
	rate, ok, err := cfg.Backends[2].OptionInt("rate")
	if err != nil || !ok || rate != 150 {
		t.Errorf("OptionInt(rate) = %d, %v, %v", rate, ok, err)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Speech.ShowErrorsOrDefault() {
		t.Error("show_errors should default to true")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("speech:\n  probe_wrod: see\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/pronounce.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOptionInt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		options map[string]any
		want    int
		wantOK  bool
		wantErr bool
	}{
		{name: "missing", options: nil},
		{name: "int", options: map[string]any{"rate": 150}, want: 150, wantOK: true},
		{name: "whole float", options: map[string]any{"rate": 150.0}, want: 150, wantOK: true},
		{name: "fraction", options: map[string]any{"rate": 150.5}, wantOK: true, wantErr: true},
		{name: "string", options: map[string]any{"rate": "fast"}, wantOK: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := config.BackendEntry{Name: "espeak", Options: tt.options}
			got, ok, err := e.OptionInt("rate")
			if got != tt.want || ok != tt.wantOK || (err != nil) != tt.wantErr {
				t.Errorf("OptionInt = %d, %v, %v", got, ok, err)
			}
		})
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownKind(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.Create(config.BackendEntry{Name: "x", Kind: speech.KindRemoteAudio}, nil)
	if !errors.Is(err, config.ErrKindNotRegistered) {
		t.Errorf("expected ErrKindNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotSink audio.Sink
	reg.Register(speech.KindOnDevice, func(e config.BackendEntry, sink audio.Sink) (speech.Backend, error) {
		gotSink = sink
		return stubBackend{name: e.Name, kind: e.Kind}, nil
	})

	sink := audio.NewNullSink(audio.Format{SampleRate: 24000, Channels: 1})
	b, err := reg.Create(config.BackendEntry{Name: "espeak", Kind: speech.KindOnDevice}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name() != "espeak" {
		t.Errorf("name: got %q", b.Name())
	}
	if gotSink != sink {
		t.Error("factory did not receive the sink")
	}
	if kinds := reg.Kinds(); len(kinds) != 1 || kinds[0] != speech.KindOnDevice {
		t.Errorf("Kinds() = %v", kinds)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.Register(speech.KindRemoteAudio, func(config.BackendEntry, audio.Sink) (speech.Backend, error) {
		return nil, boom
	})
	_, err := reg.CreateAll([]config.BackendEntry{{Name: "a", Kind: speech.KindRemoteAudio}}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected factory error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"a"`) {
		t.Errorf("error should name the backend, got %v", err)
	}
}

func TestRegistry_CreateAllKeepsOrder(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	factory := func(e config.BackendEntry, _ audio.Sink) (speech.Backend, error) {
		return stubBackend{name: e.Name, kind: e.Kind}, nil
	}
	reg.Register(speech.KindRemoteAudio, factory)
	reg.Register(speech.KindOnDevice, factory)

	entries := []config.BackendEntry{
		{Name: "c", Kind: speech.KindOnDevice},
		{Name: "a", Kind: speech.KindRemoteAudio},
		{Name: "b", Kind: speech.KindRemoteAudio},
	}
	bs, err := reg.CreateAll(entries, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range bs {
		if b.Name() != entries[i].Name {
			t.Errorf("backend %d: got %q, want %q", i, b.Name(), entries[i].Name)
		}
	}
}
