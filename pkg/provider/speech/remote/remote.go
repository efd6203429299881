// Package remote provides a speech backend that downloads a ready-made audio
// file for a word from an HTTP endpoint and plays it through an audio sink.
//
// Endpoints are described by a URL template containing the {word} placeholder,
// e.g. a dictionary "voice" URL. The response may be MP3 or WAV; it is decoded
// to PCM with [audio.Decode] and played via [audio.PlayClip], so volume and
// cancellation behave the same as for on-device engines.
//
// Typical usage:
//
//	b, err := remote.New("youdao", remote.MustPreset("youdao"), sink,
//	    remote.WithRequestsPerMinute(120),
//	)
//	err = b.Attempt(ctx, speech.Request{Word: "hello", Volume: 1})
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Compile-time interface assertions.
var (
	_ speech.Backend      = (*Backend)(nil)
	_ speech.SilentProber = (*Backend)(nil)
)

// Placeholder is replaced by the query-escaped word in URL templates.
const Placeholder = "{word}"

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 4 << 20
	defaultUserAgent    = "pronounced/1.0"

	// errorBodyLimit bounds how much of a non-2xx body is drained so the
	// connection can be reused.
	errorBodyLimit = 4 << 10
)

var presets = map[string]string{
	"youdao": "https://dict.youdao.com/dictvoice?audio={word}&type=1",
	"baidu":  "https://fanyi.baidu.com/gettts?lan=en&text={word}&spd=5&source=web",
	"bing":   "https://www.bing.com/tts?text={word}&lang=en-US&format=audio/mp3",
}

// Preset returns the URL template of a built-in endpoint.
func Preset(name string) (string, bool) {
	u, ok := presets[strings.ToLower(name)]
	return u, ok
}

// MustPreset is like [Preset] but panics when name is unknown.
func MustPreset(name string) string {
	u, ok := Preset(name)
	if !ok {
		panic(fmt.Sprintf("remote: unknown preset %q", name))
	}
	return u
}

// PresetNames returns the names of the built-in endpoints.
func PresetNames() []string {
	return []string{"youdao", "baidu", "bing"}
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		if c != nil {
			b.client = c
		}
	}
}

// WithTimeout sets the HTTP client timeout for a single download.
// Defaults to 10 s. Attempts are usually bounded more tightly by their context.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRequestsPerMinute throttles downloads to n per minute with a burst of
// one. Zero (the default) disables throttling.
func WithRequestsPerMinute(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// WithMaxBodyBytes caps the accepted response size. Defaults to 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent to the endpoint.
func WithUserAgent(ua string) Option {
	return func(b *Backend) {
		if ua != "" {
			b.userAgent = ua
		}
	}
}

// Backend implements speech.Backend for a remote audio endpoint.
// It is safe for concurrent use.
type Backend struct {
	name      string
	template  string
	sink      audio.Sink
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
}

// New creates a Backend named name that fetches audio from urlTemplate and
// plays it on sink. urlTemplate must be an absolute http(s) URL containing
// [Placeholder]. A nil sink makes the backend report itself unavailable.
func New(name, urlTemplate string, sink audio.Sink, opts ...Option) (*Backend, error) {
	if name == "" {
		return nil, errors.New("remote: name must not be empty")
	}
	if err := ValidateTemplate(urlTemplate); err != nil {
		return nil, err
	}
	b := &Backend{
		name:      name,
		template:  urlTemplate,
		sink:      sink,
		timeout:   defaultTimeout,
		maxBody:   defaultMaxBodyBytes,
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(b)
	}
	if b.client == nil {
		b.client = &http.Client{
			Timeout:   b.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return b, nil
}

// ValidateTemplate checks that t is an absolute http(s) URL containing
// [Placeholder].
func ValidateTemplate(t string) error {
	if !strings.Contains(t, Placeholder) {
		return fmt.Errorf("remote: url %q lacks the %s placeholder", t, Placeholder)
	}
	u, err := url.Parse(strings.ReplaceAll(t, Placeholder, "x"))
	if err != nil {
		return fmt.Errorf("remote: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote: url %q must use http or https", t)
	}
	if u.Host == "" {
		return fmt.Errorf("remote: url %q has no host", t)
	}
	return nil
}

// Name implements speech.Backend.
func (b *Backend) Name() string { return b.name }

// Kind implements speech.Backend.
func (b *Backend) Kind() speech.Kind { return speech.KindRemoteAudio }

// Available implements speech.Backend. A remote backend only needs an output
// device; reachability is left to the probe.
func (b *Backend) Available() bool { return b.sink != nil }

// URL returns the request URL for word.
func (b *Backend) URL(word string) string {
	return strings.ReplaceAll(b.template, Placeholder, url.QueryEscape(word))
}

// Fetch downloads the audio for word and returns the body and its content
// type. Non-2xx responses yield a *[speech.StatusError].
func (b *Backend) Fetch(ctx context.Context, word string) ([]byte, string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("remote: %s: rate limit wait: %w", b.name, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL(word), nil)
	if err != nil {
		return nil, "", fmt.Errorf("remote: %s: create request: %w", b.name, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "audio/*")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("remote: %s: GET: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return nil, "", &speech.StatusError{Backend: b.name, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("remote: %s: read body: %w", b.name, err)
	}
	if int64(len(data)) > b.maxBody {
		return nil, "", fmt.Errorf("%w: %s: body exceeds %d bytes", speech.ErrDecode, b.name, b.maxBody)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %s: empty body", speech.ErrDecode, b.name)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func (b *Backend) clip(ctx context.Context, word string) (audio.Clip, error) {
	data, _, err := b.Fetch(ctx, word)
	if err != nil {
		return audio.Clip{}, err
	}
	clip, err := audio.Decode(data)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: %s: %w", speech.ErrDecode, b.name, err)
	}
	return clip, nil
}

// SilentProbe implements speech.SilentProber. It downloads and decodes the
// audio without playing it.
func (b *Backend) SilentProbe(ctx context.Context, word string) (speech.ProbeReport, error) {
	clip, err := b.clip(ctx, word)
	if err != nil {
		return speech.ProbeReport{}, err
	}
	return speech.ProbeReport{
		Detail: fmt.Sprintf("%d Hz, %d ch, %s", clip.Format.SampleRate, clip.Format.Channels, clip.Duration().Round(time.Millisecond)),
	}, nil
}

// Attempt implements speech.Backend.
func (b *Backend) Attempt(ctx context.Context, req speech.Request) error {
	if b.sink == nil {
		return fmt.Errorf("%w: %s: no audio output", speech.ErrUnavailable, b.name)
	}
	clip, err := b.clip(ctx, req.Word)
	if err != nil {
		return err
	}

	return speech.Play(ctx, b.name, b.sink, clip, req)
}
