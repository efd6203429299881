package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wordtetris/pronounce/internal/health"
	"github.com/wordtetris/pronounce/internal/resilience"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
	"github.com/wordtetris/pronounce/pkg/provider/speech/mock"
)

// fakeFetcher serves canned audio for /v1/audio tests.
type fakeFetcher struct {
	name        string
	data        []byte
	contentType string
	err         error
	words       []string
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(_ context.Context, word string) ([]byte, string, error) {
	f.words = append(f.words, word)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

func newPronouncer(t *testing.T, s *Server, backends ...speech.Backend) *resilience.Pronouncer {
	t.Helper()
	p := resilience.New(backends,
		resilience.WithProbeTimeout(500*time.Millisecond),
		resilience.WithVoiceListWait(0),
		resilience.WithAttemptTimeout(500*time.Millisecond),
		resilience.WithNotifier(s.Notices()),
	)
	t.Cleanup(p.Stop)
	return p
}

// newTestServer returns a server whose engine speaks through backends.
func newTestServer(t *testing.T, fetchers []Fetcher, backends ...speech.Backend) (*Server, *resilience.Pronouncer) {
	t.Helper()
	s := New()
	p := newPronouncer(t, s, backends...)
	s.SetEngine(Engine{Speaker: p, Fetchers: fetchers})
	return s, p
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode JSON %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSpeak_OK(t *testing.T) {
	b := &mock.Backend{BackendName: "youdao"}
	s, _ := newTestServer(t, nil, b)

	rec := do(t, s.Handler(), "POST", "/v1/speak", `{"word":"apple","volume":0.5,"timeout_ms":800}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[speakResponse](t, rec)
	if got.Provider != "youdao" || got.Retried || got.UtteranceID == "" {
		t.Errorf("response = %+v", got)
	}
	calls := b.Attempts()
	if len(calls) != 1 || calls[0].Word != "apple" || calls[0].Volume != 0.5 {
		t.Errorf("attempts = %+v", calls)
	}
}

func TestSpeak_BlankWord(t *testing.T) {
	b := &mock.Backend{BackendName: "youdao"}
	s, _ := newTestServer(t, nil, b)

	rec := do(t, s.Handler(), "POST", "/v1/speak", `{"word":"   "}`)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if b.ProbeCalls != 0 {
		t.Errorf("blank word triggered %d probes", b.ProbeCalls)
	}
}

func TestSpeak_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil, &mock.Backend{BackendName: "youdao"})
	for _, body := range []string{`{"word":`, `{"word":"a","timeout_ms":-5}`} {
		if rec := do(t, s.Handler(), "POST", "/v1/speak", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestSpeak_NoEngine(t *testing.T) {
	s := New()
	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/v1/speak", `{"word":"apple"}`},
		{"GET", "/v1/providers", ""},
		{"POST", "/v1/providers/reprobe", ""},
	} {
		if rec := do(t, s.Handler(), tc.method, tc.path, tc.body); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want 503", tc.method, tc.path, rec.Code)
		}
	}
	if rec := do(t, s.Handler(), "POST", "/v1/stop", ""); rec.Code != http.StatusNoContent {
		t.Errorf("stop without engine: status = %d", rec.Code)
	}
}

func TestSpeak_NoCandidatesPostsNotice(t *testing.T) {
	b := &mock.Backend{BackendName: "youdao", Unavailable: true}
	s, _ := newTestServer(t, nil, b)
	h := s.Handler()

	rec := do(t, h, "POST", "/v1/speak", `{"word":"apple"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if msg := decode[errorResponse](t, rec).Error; !strings.Contains(msg, resilience.ErrNoCandidates.Error()) {
		t.Errorf("error = %q", msg)
	}

	rec = do(t, h, "GET", "/v1/providers", "")
	got := decode[providersResponse](t, rec)
	if !got.Probed || len(got.Providers) != 0 {
		t.Errorf("providers = %+v", got)
	}
	if got.LastNotice == nil || got.LastNotice.Message == "" {
		t.Error("expected the failure notice in last_notice")
	}
}

func TestSpeak_CanceledByStop(t *testing.T) {
	b := &mock.Backend{BackendName: "youdao", AttemptDelay: 5 * time.Second}
	s, p := newTestServer(t, nil, b)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h := s.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, h, "POST", "/v1/speak", `{"word":"apple","timeout_ms":5000}`)
	}()

	deadline := time.Now().Add(time.Second)
	for len(b.Attempts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("attempt did not start")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if rec := do(t, h, "POST", "/v1/stop", ""); rec.Code != http.StatusNoContent {
		t.Errorf("stop status = %d", rec.Code)
	}

	select {
	case rec := <-done:
		if rec.Code != http.StatusConflict {
			t.Errorf("speak status = %d, want 409", rec.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("speak did not return after stop")
	}
}

func TestProviders_Details(t *testing.T) {
	fast := &mock.Backend{BackendName: "youdao", ProbeDelay: time.Millisecond}
	slow := &mock.Backend{
		BackendName: "espeak",
		BackendKind: speech.KindOnDevice,
		ProbeDelay:  40 * time.Millisecond,
		Report:      speech.ProbeReport{Degraded: true, Detail: "voice en-us"},
	}
	s, p := newTestServer(t, nil, slow, fast)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := do(t, s.Handler(), "GET", "/v1/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[providersResponse](t, rec)
	if got.Current != "youdao" || len(got.Providers) != 2 {
		t.Fatalf("providers = %+v", got)
	}
	if got.Providers[0].Name != "youdao" || !got.Providers[0].Current {
		t.Errorf("first = %+v", got.Providers[0])
	}
	second := got.Providers[1]
	if second.Name != "espeak" || second.Kind != speech.KindOnDevice || !second.NeedsVerification || second.Detail != "voice en-us" {
		t.Errorf("second = %+v", second)
	}
	if got.LastNotice != nil {
		t.Errorf("unexpected notice %+v", got.LastNotice)
	}
}

func TestReprobe(t *testing.T) {
	b := &mock.Backend{BackendName: "youdao"}
	s, _ := newTestServer(t, nil, b)
	h := s.Handler()

	rec := do(t, h, "POST", "/v1/providers/reprobe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[providersResponse](t, rec); len(got.Providers) != 1 {
		t.Errorf("providers = %+v", got)
	}

	b.SetUnavailable(true)
	rec = do(t, h, "POST", "/v1/providers/reprobe", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := decode[providersResponse](t, rec); len(got.Providers) != 0 || got.Error == "" {
		t.Errorf("providers = %+v", got)
	}
}

func TestAudio_Download(t *testing.T) {
	yd := &fakeFetcher{name: "youdao", data: []byte("ID3fake"), contentType: "audio/mpeg"}
	bing := &fakeFetcher{name: "bing", data: []byte("bing")}
	s, _ := newTestServer(t, []Fetcher{bing, yd}, &mock.Backend{BackendName: "youdao"})

	rec := do(t, s.Handler(), "GET", "/v1/audio?word=Apple", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "ID3fake" {
		t.Errorf("body = %q", rec.Body)
	}
	want := map[string]string{
		"Content-Type":                "audio/mpeg",
		"Content-Length":              "7",
		"Content-Disposition":         `attachment; filename="apple_youdao.mp3"`,
		"Access-Control-Allow-Origin": "*",
		"Cache-Control":               "public, max-age=31536000, immutable",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if len(yd.words) != 1 || yd.words[0] != "Apple" {
		t.Errorf("fetched words = %v", yd.words)
	}

	rec = do(t, s.Handler(), "GET", "/v1/audio?word=pear&provider=BING", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("default Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="pear_bing.mp3"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestAudio_Errors(t *testing.T) {
	upstream := &fakeFetcher{name: "youdao", err: &speech.StatusError{Backend: "youdao", StatusCode: http.StatusNotFound}}
	broken := &fakeFetcher{name: "baidu", err: errors.New("connection reset")}
	s, _ := newTestServer(t, []Fetcher{upstream, broken}, &mock.Backend{BackendName: "youdao"})
	h := s.Handler()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantError  string
	}{
		{"missing word", "/v1/audio", http.StatusBadRequest, "missing word"},
		{"blank word", "/v1/audio?word=%20", http.StatusBadRequest, "missing word"},
		{"unknown provider", "/v1/audio?word=a&provider=nope", http.StatusNotFound, "nope"},
		{"misspelled provider", "/v1/audio?word=a&provider=baidoo", http.StatusNotFound, `did you mean "baidu"?`},
		{"upstream status", "/v1/audio?word=a", http.StatusNotFound, "upstream 404"},
		{"transport failure", "/v1/audio?word=a&provider=baidu", http.StatusBadGateway, "connection reset"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, "GET", tc.target, "")
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if msg := decode[errorResponse](t, rec).Error; !strings.Contains(msg, tc.wantError) {
				t.Errorf("error = %q, want it to contain %q", msg, tc.wantError)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("missing CORS header on error")
			}
		})
	}
}

func TestAudio_Preflight(t *testing.T) {
	s := New()
	rec := do(t, s.Handler(), "OPTIONS", "/v1/audio", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestPickFetcher(t *testing.T) {
	a := &fakeFetcher{name: "bing"}
	b := &fakeFetcher{name: "baidu"}

	if f, ok := pickFetcher([]Fetcher{a, b}, ""); !ok || f != a {
		t.Errorf("empty name without youdao should pick the first fetcher")
	}
	if f, ok := pickFetcher([]Fetcher{a, b}, "Baidu"); !ok || f != b {
		t.Errorf("lookup should be case-insensitive")
	}
	if _, ok := pickFetcher(nil, ""); ok {
		t.Error("no fetchers should report false")
	}
}

func TestFileStem(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Apple", "apple"},
		{`say "hi"`, "say hi"},
		{`a/b\c`, "abc"},
		{"ice\ncream", "icecream"},
		{"Straße", "straße"},
	}
	for _, tc := range tests {
		if got := fileStem(tc.in); got != tc.want {
			t.Errorf("fileStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReadyz_FollowsProbe(t *testing.T) {
	s, p := newTestServer(t, nil, &mock.Backend{BackendName: "youdao"})
	h := s.Handler()

	if rec := do(t, h, "GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before probe: status = %d, want 503", rec.Code)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if rec := do(t, h, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("after probe: status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", rec.Code)
	}
}

func TestReadyz_ExtraCheckers(t *testing.T) {
	s := New(WithCheckers(health.Checker{
		Name:  "audio",
		Check: func(context.Context) error { return errors.New("device gone") },
	}))
	p := newPronouncer(t, s, &mock.Backend{BackendName: "youdao"})
	s.SetEngine(Engine{Speaker: p})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := do(t, s.Handler(), "GET", "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "device gone") || !strings.Contains(body, `"providers":"ok"`) {
		t.Errorf("body = %s, want both checks reported", body)
	}
}

func TestSpeak_MaxBodySize(t *testing.T) {
	s := New(WithMaxBodySize(32))
	s.SetEngine(Engine{Speaker: newPronouncer(t, s, &mock.Backend{BackendName: "youdao"})})
	h := s.Handler()

	if rec := do(t, h, "POST", "/v1/speak", `{"word":"apple"}`); rec.Code != http.StatusOK {
		t.Errorf("small body: status = %d, want 200", rec.Code)
	}
	long := `{"word":"` + strings.Repeat("a", 64) + `"}`
	if rec := do(t, h, "POST", "/v1/speak", long); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized body: status = %d, want 400", rec.Code)
	}
}

func TestWithNoticeBoard_SharesBoard(t *testing.T) {
	board := NewNoticeBoard()
	s := New(WithNoticeBoard(board))
	if s.Notices() != board {
		t.Fatal("Notices() is not the supplied board")
	}
	s.SetEngine(Engine{Speaker: newPronouncer(t, s, &mock.Backend{BackendName: "youdao"})})

	board.Notify(context.Background(), "Cannot pronounce \"pear\"")
	got := decode[providersResponse](t, do(t, s.Handler(), "GET", "/v1/providers", ""))
	if got.LastNotice == nil || !strings.Contains(got.LastNotice.Message, "pear") {
		t.Errorf("last_notice = %+v, want the board's notice", got.LastNotice)
	}
}

func TestSetEngine_Swaps(t *testing.T) {
	s, _ := newTestServer(t, nil, &mock.Backend{BackendName: "old"})
	next := &mock.Backend{BackendName: "new"}
	s.SetEngine(Engine{Speaker: newPronouncer(t, s, next)})

	rec := do(t, s.Handler(), "POST", "/v1/speak", `{"word":"apple"}`)
	if got := decode[speakResponse](t, rec); got.Provider != "new" {
		t.Errorf("provider = %q, want the swapped engine", got.Provider)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, New().Handler(), "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestNoticeBoard(t *testing.T) {
	b := NewNoticeBoard()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	if _, ok := b.Last(); ok {
		t.Fatal("new board should be empty")
	}
	b.Notify(context.Background(), "first")
	b.Notify(context.Background(), "second")
	n, ok := b.Last()
	if !ok || n.Message != "second" || !n.At.Equal(at) {
		t.Errorf("Last() = %+v, %v", n, ok)
	}
}
