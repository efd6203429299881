// Package server exposes the pronunciation client over HTTP.
//
// Routes:
//
//	POST /v1/speak              pronounce a word on the local audio device
//	POST /v1/stop               silence the current utterance
//	GET  /v1/providers          rotation details and the last user notice
//	POST /v1/providers/reprobe  force a probe cycle
//	GET  /v1/audio              download a word's audio from a remote backend
//	GET  /v1/events             websocket stream of speak outcomes and notices
//	GET  /healthz, /readyz      liveness and readiness
//	GET  /metrics               Prometheus scrape endpoint
//
// The failover client behind the routes can be replaced at runtime with
// [Server.SetEngine]; requests already in flight finish on the engine they
// started with.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wordtetris/pronounce/internal/health"
	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/resilience"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	// defaultMaxBodySize bounds a /v1/speak request body.
	defaultMaxBodySize int64 = 64 << 10
)

// Speaker is the failover client the routes drive.
// [*resilience.Pronouncer] implements it.
type Speaker interface {
	Speak(ctx context.Context, word string, opts ...resilience.SpeakOption) (resilience.Result, error)
	Stop()
	Reprobe(ctx context.Context) error
	Probed() bool
	AvailableProviders() []string
	CurrentProvider() (string, bool)
	Providers() []resilience.ProviderInfo
}

// Fetcher downloads the encoded audio a remote backend would play.
// [*remote.Backend] implements it.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, word string) (data []byte, contentType string, err error)
}

// Engine is the set of components built from one configuration.
type Engine struct {
	Speaker  Speaker
	Fetchers []Fetcher
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records HTTP request metrics through m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers adds readiness checks next to the built-in providers check.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMaxBodySize sets the maximum /v1/speak request body size in bytes.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithOriginPatterns lists the cross-origin hosts allowed to open the
// /v1/events websocket. Same-origin requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// WithNoticeBoard replaces the notice board the server reports from.
func WithNoticeBoard(b *NoticeBoard) Option {
	return func(s *Server) { s.notices = b }
}

// Server is the HTTP front end of the daemon.
type Server struct {
	engine      atomic.Pointer[Engine]
	notices     *NoticeBoard
	metrics     *observe.Metrics
	checkers    []health.Checker
	maxBodySize int64

	events         *eventHub
	originPatterns []string
	done           chan struct{}

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool
}

// New creates a Server with no engine. Until [Server.SetEngine] is called the
// API routes answer 503.
func New(opts ...Option) *Server {
	s := &Server{
		maxBodySize: defaultMaxBodySize,
		events:      newEventHub(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notices == nil {
		s.notices = NewNoticeBoard()
	}
	s.notices.listen(func(n Notice) {
		s.events.publish(Event{Type: EventNotice, Message: n.Message, At: n.At})
	})
	return s
}

// SetEngine installs e as the engine for subsequent requests.
func (s *Server) SetEngine(e Engine) {
	s.engine.Store(&e)
}

// Notices returns the board that collects terminal failure notices. Pass it
// to the failover client with [resilience.WithNotifier].
func (s *Server) Notices() *NoticeBoard { return s.notices }

func (s *Server) current() (*Engine, bool) {
	e := s.engine.Load()
	if e == nil || e.Speaker == nil {
		return nil, false
	}
	return e, true
}

// Probed reports whether the current engine finished a probe cycle.
func (s *Server) Probed() bool {
	e, ok := s.current()
	return ok && e.Speaker.Probed()
}

// AvailableProviders returns the current engine's rotation.
func (s *Server) AvailableProviders() []string {
	e, ok := s.current()
	if !ok {
		return nil
	}
	return e.Speaker.AvailableProviders()
}

// Handler returns the full route table wrapped in request instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/providers", s.handleProviders)
	mux.HandleFunc("POST /v1/providers/reprobe", s.handleReprobe)
	mux.HandleFunc("GET /v1/audio", s.handleAudio)
	mux.HandleFunc("OPTIONS /v1/audio", s.handleAudioPreflight)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	checkers := append([]health.Checker{health.Providers(s)}, s.checkers...)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) newHTTPServer(addr string) (*http.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, http.ErrServerClosed
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return s.httpSrv, nil
}

// ListenAndServe serves on addr until [Server.Shutdown]. It returns
// [http.ErrServerClosed] after a graceful shutdown, including one that
// happened before it was called.
func (s *Server) ListenAndServe(addr string) error {
	srv, err := s.newHTTPServer(addr)
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}

// ListenAndServeTLS is like ListenAndServe with TLS.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	srv, err := s.newHTTPServer(addr)
	if err != nil {
		return err
	}
	return srv.ListenAndServeTLS(certFile, keyFile)
}

// Serve serves on ln until [Server.Shutdown].
func (s *Server) Serve(ln net.Listener) error {
	srv, err := s.newHTTPServer(ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return err
	}
	return srv.Serve(ln)
}

// Shutdown stops accepting requests, silences any utterance in flight, ends
// event streams and waits for handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	if e, ok := s.current(); ok {
		e.Speaker.Stop()
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
