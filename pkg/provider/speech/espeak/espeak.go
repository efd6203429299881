// Package espeak provides an on-device speech backend driven by the espeak-ng
// (or classic espeak) command line synthesiser.
//
// The engine writes a WAV file to stdout which is decoded and played through
// the shared audio sink, so volume and cancellation work exactly as for remote
// backends. The installed voice list is loaded lazily in the background the
// first time it is needed; attempts wait a bounded time for it. A failed load
// is not kept, so the next probe or attempt lists the voices again.
//
// Voice selection prefers the configured accent (default "en-gb"). When only
// another English voice is installed the backend still works but reports its
// probe as degraded.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Compile-time interface assertions.
var (
	_ speech.Backend      = (*Backend)(nil)
	_ speech.SilentProber = (*Backend)(nil)
)

const (
	// DefaultAccent is the preferred voice language.
	DefaultAccent = "en-gb"

	// DefaultRate is the speaking rate in words per minute: 0.8 of espeak's
	// normal 175 wpm, which keeps single words clear.
	DefaultRate = 140

	// DefaultVoiceListWait bounds how long an attempt waits for the lazily
	// loaded voice list.
	DefaultVoiceListWait = 2 * time.Second

	// DefaultVoiceListTimeout bounds one run of the voice listing command.
	DefaultVoiceListTimeout = 10 * time.Second
)

// binaries are looked up on PATH in order.
var binaries = []string{"espeak-ng", "espeak"}

// ErrVoiceListPending is returned when the voice list did not load within the
// configured wait.
var ErrVoiceListPending = errors.New("espeak: voice list not loaded yet")

// Runner executes the engine and returns its standard output.
type Runner interface {
	Run(ctx context.Context, stdin string, bin string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to [Runner].
type RunnerFunc func(ctx context.Context, stdin string, bin string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, stdin string, bin string, args ...string) ([]byte, error) {
	return f(ctx, stdin, bin, args...)
}

// ExecRunner runs the engine as a subprocess.
type ExecRunner struct{}

// Run implements [Runner].
func (ExecRunner) Run(ctx context.Context, stdin string, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Voice is one installed voice.
type Voice struct {
	Language string
	Name     string
	File     string
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithBinary sets the engine binary explicitly instead of searching PATH.
func WithBinary(path string) Option {
	return func(b *Backend) { b.bin = path }
}

// WithAccent sets the preferred voice language, e.g. "en-us".
func WithAccent(accent string) Option {
	return func(b *Backend) {
		if accent != "" {
			b.accent = strings.ToLower(accent)
		}
	}
}

// WithRate sets the speaking rate in words per minute.
func WithRate(wpm int) Option {
	return func(b *Backend) {
		if wpm > 0 {
			b.rate = wpm
		}
	}
}

// WithVoiceListWait bounds how long an attempt waits for the voice list.
func WithVoiceListWait(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.voiceWait = d
		}
	}
}

// WithVoiceListTimeout bounds one run of the voice listing command. A run
// that times out counts as a failed load and is retried on the next call.
func WithVoiceListTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.listTimeout = d
		}
	}
}

// WithRunner replaces the subprocess runner. Used in tests.
func WithRunner(r Runner) Option {
	return func(b *Backend) {
		if r != nil {
			b.runner = r
		}
	}
}

// Backend implements speech.Backend on top of espeak.
// It is safe for concurrent use.
type Backend struct {
	name        string
	bin         string
	accent      string
	rate        int
	voiceWait   time.Duration
	listTimeout time.Duration
	sink        audio.Sink
	runner      Runner

	mu   sync.Mutex
	load *voiceLoad // nil until a load starts, and again after one fails
}

// voiceLoad is one run of the voice listing command. voices and err are set
// before done is closed.
type voiceLoad struct {
	done   chan struct{}
	voices []Voice
	err    error
}

// New creates an espeak Backend that plays on sink. When no binary is given
// with [WithBinary], espeak-ng and then espeak are looked up on PATH; if
// neither exists the backend reports itself unavailable.
func New(name string, sink audio.Sink, opts ...Option) *Backend {
	b := &Backend{
		name:       name,
		accent:     DefaultAccent,
		rate:       DefaultRate,
		voiceWait:   DefaultVoiceListWait,
		listTimeout: DefaultVoiceListTimeout,
		sink:        sink,
		runner:      ExecRunner{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.bin == "" {
		b.bin = lookPath()
	}
	return b
}

func lookPath() string {
	for _, name := range binaries {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Name implements speech.Backend.
func (b *Backend) Name() string { return b.name }

// Kind implements speech.Backend.
func (b *Backend) Kind() speech.Kind { return speech.KindOnDevice }

// Available implements speech.Backend. It also starts loading the voice list
// in the background.
func (b *Backend) Available() bool {
	if b.bin == "" || b.sink == nil {
		return false
	}
	b.loadVoices()
	return true
}

// Binary returns the resolved engine path, or "" when none was found.
func (b *Backend) Binary() string { return b.bin }

// loadVoices returns the current voice list load, starting one when none is
// loaded or in flight.
func (b *Backend) loadVoices() *voiceLoad {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.load != nil {
		return b.load
	}
	l := &voiceLoad{done: make(chan struct{})}
	b.load = l
	go b.runLoad(l)
	return l
}

func (b *Backend) runLoad(l *voiceLoad) {
	defer close(l.done)

	ctx, cancel := context.WithTimeout(context.Background(), b.listTimeout)
	defer cancel()
	out, err := b.runner.Run(ctx, "", b.bin, "--voices=en")
	if err != nil {
		l.err = fmt.Errorf("espeak: list voices: %w", err)
		b.mu.Lock()
		if b.load == l {
			b.load = nil
		}
		b.mu.Unlock()
		slog.Debug("espeak: voice list failed, will retry", "backend", b.name, "err", err)
		return
	}
	l.voices = parseVoices(out)
	slog.Debug("espeak: voice list loaded", "backend", b.name, "voices", len(l.voices))
}

// Voices waits up to the configured voice list wait for the installed English
// voices. After a failed load the next call starts a new one.
func (b *Backend) Voices(ctx context.Context) ([]Voice, error) {
	if b.bin == "" {
		return nil, fmt.Errorf("%w: %s: no espeak binary found", speech.ErrUnavailable, b.name)
	}
	l := b.loadVoices()

	t := time.NewTimer(b.voiceWait)
	defer t.Stop()
	select {
	case <-l.done:
		return l.voices, l.err
	case <-t.C:
		return nil, fmt.Errorf("%w after %s", ErrVoiceListPending, b.voiceWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseVoices reads the table printed by --voices. The first line is a
// header; the columns are priority, language, age/gender, name and file.
func parseVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		f := strings.Fields(sc.Text())
		if len(f) < 5 {
			continue
		}
		voices = append(voices, Voice{Language: strings.ToLower(f[1]), Name: f[3], File: f[4]})
	}
	return voices
}

// selectVoice picks the accent if installed, otherwise any English voice.
// degraded reports the fallback.
func selectVoice(voices []Voice, accent string) (v Voice, degraded bool, ok bool) {
	for _, v := range voices {
		if v.Language == accent {
			return v, false, true
		}
	}
	for _, v := range voices {
		if v.Language == "en" || strings.HasPrefix(v.Language, "en-") {
			return v, true, true
		}
	}
	return Voice{}, false, false
}

// synthesize renders word to a PCM clip with the best available voice.
func (b *Backend) synthesize(ctx context.Context, word string) (audio.Clip, Voice, bool, error) {
	voices, err := b.Voices(ctx)
	if err != nil {
		return audio.Clip{}, Voice{}, false, err
	}
	voice, degraded, ok := selectVoice(voices, b.accent)
	if !ok {
		return audio.Clip{}, Voice{}, false, fmt.Errorf("%w: %s: no English voice installed", speech.ErrUnavailable, b.name)
	}

	out, err := b.runner.Run(ctx, word, b.bin,
		"-v", voice.Language,
		"-s", strconv.Itoa(b.rate),
		"--stdout",
		"--stdin",
	)
	if err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, voice, degraded, ctx.Err()
		}
		return audio.Clip{}, voice, degraded, fmt.Errorf("espeak: %s: synthesize: %w", b.name, err)
	}
	clip, err := audio.DecodeWAV(out)
	if err != nil {
		return audio.Clip{}, voice, degraded, fmt.Errorf("%w: %s: %w", speech.ErrDecode, b.name, err)
	}
	if clip.Empty() {
		return audio.Clip{}, voice, degraded, fmt.Errorf("%w: %s: engine produced no samples", speech.ErrDecode, b.name)
	}
	return clip, voice, degraded, nil
}

// SilentProbe implements speech.SilentProber. It synthesises word without
// playing it.
func (b *Backend) SilentProbe(ctx context.Context, word string) (speech.ProbeReport, error) {
	_, voice, degraded, err := b.synthesize(ctx, word)
	if err != nil {
		return speech.ProbeReport{}, err
	}
	detail := "voice " + voice.Language
	if degraded {
		detail += fmt.Sprintf(" (preferred %s not installed)", b.accent)
	}
	return speech.ProbeReport{Degraded: degraded, Detail: detail}, nil
}

// Attempt implements speech.Backend.
func (b *Backend) Attempt(ctx context.Context, req speech.Request) error {
	if b.sink == nil {
		return fmt.Errorf("%w: %s: no audio output", speech.ErrUnavailable, b.name)
	}
	clip, _, _, err := b.synthesize(ctx, req.Word)
	if err != nil {
		return err
	}
	return speech.Play(ctx, b.name, b.sink, clip, req)
}
