package espeak

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wordtetris/pronounce/internal/playback"
	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/audio/mock"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

const voiceTable = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 2  en-gb           --/M      English_(Great_Britain) gmw/en               (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  en-029          --/M      English_(Caribbean) gmw/en-029           (en 10)
`

const usOnlyTable = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`

// fakeEngine scripts the espeak command line.
type fakeEngine struct {
	mu        sync.Mutex
	voices    string
	voicesErr error
	listDelay time.Duration
	// listFailures makes that many voice list runs fail before any succeeds.
	listFailures int
	listRuns     int
	synthErr     error
	wav          []byte
	calls        [][]string
	stdins       []string
}

func (f *fakeEngine) Run(ctx context.Context, stdin string, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.stdins = append(f.stdins, stdin)
	listing := slices.Contains(args, "--voices=en")
	var (
		delay time.Duration
		fail  bool
	)
	if listing {
		f.listRuns++
		delay = f.listDelay
		fail = f.listRuns <= f.listFailures
	}
	f.mu.Unlock()

	if listing {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if fail {
			return nil, errors.New("resource busy")
		}
		return []byte(f.voices), f.voicesErr
	}
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	if f.wav != nil {
		return f.wav, nil
	}
	return audio.EncodeWAV(audio.Clip{
		Data:   make([]byte, 2205*2),
		Format: audio.Format{SampleRate: 22050, Channels: 1},
	}), nil
}

func (f *fakeEngine) synthCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if !slices.Contains(c, "--voices=en") {
			out = append(out, c)
		}
	}
	return out
}

func newTestBackend(engine *fakeEngine, sink audio.Sink, opts ...Option) *Backend {
	base := []Option{WithBinary("/usr/bin/espeak-ng"), WithRunner(engine)}
	return New("espeak", sink, append(base, opts...)...)
}

func TestParseVoices(t *testing.T) {
	got := parseVoices([]byte(voiceTable))
	want := []Voice{
		{Language: "en-gb", Name: "English_(Great_Britain)", File: "gmw/en"},
		{Language: "en-us", Name: "English_(America)", File: "gmw/en-US"},
		{Language: "en-029", Name: "English_(Caribbean)", File: "gmw/en-029"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("parseVoices = %+v, want %+v", got, want)
	}
	if got := parseVoices([]byte("Pty Language\n")); len(got) != 0 {
		t.Errorf("header only: got %+v", got)
	}
}

func TestSelectVoice(t *testing.T) {
	voices := parseVoices([]byte(voiceTable))
	tests := []struct {
		name         string
		voices       []Voice
		accent       string
		wantLang     string
		wantDegraded bool
		wantOK       bool
	}{
		{name: "preferred present", voices: voices, accent: "en-gb", wantLang: "en-gb", wantOK: true},
		{name: "other accent", voices: voices, accent: "en-us", wantLang: "en-us", wantOK: true},
		{name: "fallback", voices: parseVoices([]byte(usOnlyTable)), accent: "en-gb", wantLang: "en-us", wantDegraded: true, wantOK: true},
		{name: "none", voices: []Voice{{Language: "de"}}, accent: "en-gb"},
		{name: "empty", accent: "en-gb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, degraded, ok := selectVoice(tt.voices, tt.accent)
			if ok != tt.wantOK || degraded != tt.wantDegraded || v.Language != tt.wantLang {
				t.Errorf("selectVoice = (%q, %v, %v), want (%q, %v, %v)",
					v.Language, degraded, ok, tt.wantLang, tt.wantDegraded, tt.wantOK)
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable}
	if b := newTestBackend(engine, &mock.Sink{}); !b.Available() {
		t.Error("backend with binary and sink should be available")
	}
	if b := newTestBackend(engine, nil); b.Available() {
		t.Error("backend without sink should be unavailable")
	}
	noBin := New("espeak", &mock.Sink{}, WithRunner(engine))
	noBin.bin = "" // independent of the host PATH
	if noBin.Available() {
		t.Error("backend without binary should be unavailable")
	}
	if err := noBin.Attempt(context.Background(), speech.Request{Word: "x"}); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Attempt without binary = %v, want ErrUnavailable", err)
	}
}

func TestSilentProbe_PreferredVoice(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable}
	sink := &mock.Sink{}
	b := newTestBackend(engine, sink)

	report, err := b.SilentProbe(context.Background(), "see")
	if err != nil {
		t.Fatalf("SilentProbe: %v", err)
	}
	if report.Degraded {
		t.Error("Degraded = true with en-gb installed")
	}
	if report.Detail != "voice en-gb" {
		t.Errorf("Detail = %q", report.Detail)
	}
	if n := len(sink.Plays()); n != 0 {
		t.Errorf("SilentProbe played %d clips", n)
	}
}

func TestSilentProbe_FallbackVoiceIsDegraded(t *testing.T) {
	engine := &fakeEngine{voices: usOnlyTable}
	b := newTestBackend(engine, &mock.Sink{})

	report, err := b.SilentProbe(context.Background(), "see")
	if err != nil {
		t.Fatalf("SilentProbe: %v", err)
	}
	if !report.Degraded {
		t.Error("Degraded = false for a fallback voice")
	}
}

func TestSilentProbe_NoEnglishVoice(t *testing.T) {
	engine := &fakeEngine{voices: "Pty Language Age/Gender VoiceName File\n 5 de --/M German gmw/de\n"}
	b := newTestBackend(engine, &mock.Sink{})

	if _, err := b.SilentProbe(context.Background(), "see"); !errors.Is(err, speech.ErrUnavailable) {
		t.Fatalf("SilentProbe = %v, want ErrUnavailable", err)
	}
}

func TestVoices_BoundedWait(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable, listDelay: time.Hour}
	b := newTestBackend(engine, &mock.Sink{}, WithVoiceListWait(30*time.Millisecond))

	start := time.Now()
	_, err := b.Voices(context.Background())
	if !errors.Is(err, ErrVoiceListPending) {
		t.Fatalf("Voices = %v, want ErrVoiceListPending", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Voices waited %v", elapsed)
	}
}

func TestVoices_ListLoadedOnce(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable}
	b := newTestBackend(engine, &mock.Sink{})

	for range 3 {
		if _, err := b.Voices(context.Background()); err != nil {
			t.Fatalf("Voices: %v", err)
		}
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if n := len(engine.calls); n != 1 {
		t.Errorf("engine ran %d times, want 1", n)
	}
}

func TestAttempt_SynthesisesAndPlays(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable}
	sink := &mock.Sink{SinkFormat: audio.Format{SampleRate: 22050, Channels: 1}}
	b := newTestBackend(engine, sink, WithAccent("en-US"), WithRate(120))

	var handles playback.Set
	if err := b.Attempt(context.Background(), speech.Request{Word: "apple", Volume: 0.7, Handles: &handles}); err != nil {
		t.Fatalf("Attempt: %v", err)
	}

	calls := engine.synthCalls()
	if len(calls) != 1 {
		t.Fatalf("synthesis calls = %d, want 1", len(calls))
	}
	want := []string{"-v", "en-us", "-s", "120", "--stdout", "--stdin"}
	if !slices.Equal(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
	engine.mu.Lock()
	stdin := engine.stdins[len(engine.stdins)-1]
	engine.mu.Unlock()
	if stdin != "apple" {
		t.Errorf("stdin = %q, want apple", stdin)
	}

	plays := sink.Plays()
	if len(plays) != 1 || plays[0].Volume != 0.7 {
		t.Fatalf("plays = %+v", plays)
	}
	if handles.Len() != 0 {
		t.Error("handle not released")
	}
}

func TestAttempt_EngineFailure(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable, synthErr: errors.New("exit status 1")}
	b := newTestBackend(engine, &mock.Sink{})

	err := b.Attempt(context.Background(), speech.Request{Word: "x", Volume: 1})
	if err == nil || errors.Is(err, speech.ErrDecode) {
		t.Fatalf("Attempt = %v, want synthesis error", err)
	}
}

func TestAttempt_BadWAV(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable, wav: []byte("not audio")}
	b := newTestBackend(engine, &mock.Sink{})

	err := b.Attempt(context.Background(), speech.Request{Word: "x", Volume: 1})
	if !errors.Is(err, speech.ErrDecode) {
		t.Fatalf("Attempt = %v, want ErrDecode", err)
	}
}

func TestAttempt_StreamingWAVPlaceholderSize(t *testing.T) {
	wav := audio.EncodeWAV(audio.Clip{
		Data:   make([]byte, 400),
		Format: audio.Format{SampleRate: 22050, Channels: 1},
	})
	// espeak writing to a pipe leaves 0xFFFFFFFF in the data size.
	copy(wav[40:44], []byte{0xFF, 0xFF, 0xFF, 0xFF})
	engine := &fakeEngine{voices: voiceTable, wav: wav}
	sink := &mock.Sink{SinkFormat: audio.Format{SampleRate: 22050, Channels: 1}}
	b := newTestBackend(engine, sink)

	if err := b.Attempt(context.Background(), speech.Request{Word: "x", Volume: 1}); err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if got := len(sink.Plays()[0].Clip.Data); got != 400 {
		t.Errorf("clip bytes = %d, want 400", got)
	}
}

func TestVoices_RetriesAfterFailedLoad(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable, listFailures: 1}
	b := newTestBackend(engine, &mock.Sink{})

	if _, err := b.SilentProbe(context.Background(), "see"); err == nil {
		t.Fatal("first SilentProbe succeeded, want the list error")
	}
	report, err := b.SilentProbe(context.Background(), "see")
	if err != nil {
		t.Fatalf("second SilentProbe: %v", err)
	}
	if report.Detail != "voice en-gb" {
		t.Errorf("Detail = %q", report.Detail)
	}

	// A good list is kept.
	if _, err := b.SilentProbe(context.Background(), "see"); err != nil {
		t.Fatalf("third SilentProbe: %v", err)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.listRuns != 2 {
		t.Errorf("voice list runs = %d, want 2", engine.listRuns)
	}
}

func TestVoices_HungListTimesOutAndRetries(t *testing.T) {
	engine := &fakeEngine{voices: voiceTable, listDelay: time.Hour}
	b := newTestBackend(engine, &mock.Sink{},
		WithVoiceListTimeout(20*time.Millisecond),
		WithVoiceListWait(time.Second),
	)

	_, err := b.Voices(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Voices = %v, want the list run to time out", err)
	}

	engine.mu.Lock()
	engine.listDelay = 0
	engine.mu.Unlock()

	voices, err := b.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices after timeout: %v", err)
	}
	if len(voices) != 3 {
		t.Errorf("voices = %d, want 3", len(voices))
	}
}
