// Package app wires the pronounce daemon together.
//
// The App struct owns the full lifecycle: New opens the audio sink and builds
// the speech engine from the config, Run serves HTTP and applies config
// reloads until the context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSink, WithRegistry,
// etc.). When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wordtetris/pronounce/internal/config"
	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/resilience"
	"github.com/wordtetris/pronounce/internal/server"
	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/audio/otosink"
)

const (
	defaultSampleRate = 24000
	defaultChannels   = 1
)

// App owns every subsystem of the daemon.
type App struct {
	cfg      *config.Config
	level    *slog.LevelVar
	registry *config.Registry
	sink     audio.Sink
	metrics  *observe.Metrics
	server   *server.Server
	watcher  *config.Watcher
	listener net.Listener

	watchPath     string
	watchInterval time.Duration

	mu      sync.Mutex
	current *resilience.Pronouncer
	runCtx  context.Context

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects an audio sink instead of opening one from config.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRegistry injects a backend registry instead of the built-in kinds.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler that
// was built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatch reloads the config file at path while Run is active.
func WithWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// WithListener serves HTTP on ln instead of listening on the configured
// address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It opens the audio sink and builds the first
// speech engine, but probes nothing; probing starts in Run or on the first
// pronunciation.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, runCtx: context.WithoutCancel(ctx)}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(LevelOf(cfg.Server.LogLevel))
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio sink ────────────────────────────────────────────────────
	if err := a.initSink(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. HTTP server ───────────────────────────────────────────────────
	a.server = server.New(
		server.WithMetrics(a.metrics),
		server.WithOriginPatterns(cfg.Server.EventOrigins...),
	)

	// ── 3. Speech engine ─────────────────────────────────────────────────
	if err := a.rebuild(cfg); err != nil {
		return nil, fmt.Errorf("app: build speech engine: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, a.reload, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initSink opens the configured output unless one was injected.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	format := audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: a.cfg.Audio.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = defaultSampleRate
	}
	if format.Channels == 0 {
		format.Channels = defaultChannels
	}

	if a.cfg.Audio.Output == config.AudioOutputNull {
		a.sink = audio.NewNullSink(format)
		slog.Info("audio output disabled; playback is simulated", "sample_rate", format.SampleRate)
		return nil
	}

	var opts []otosink.Option
	if a.cfg.Audio.BufferSize > 0 {
		opts = append(opts, otosink.WithBufferSize(a.cfg.Audio.BufferSize))
	}
	s, err := otosink.New(format, opts...)
	if err != nil {
		return err
	}
	a.sink = s
	return nil
}

// rebuild creates a new engine from cfg and installs it. The previous
// engine, if any, is silenced. On error the previous engine stays active.
func (a *App) rebuild(cfg *config.Config) error {
	reg := a.registry
	if reg == nil {
		reg = config.NewRegistry()
		RegisterBuiltins(reg, cfg.Speech)
	}
	backends, err := reg.CreateAll(cfg.Backends, a.sink)
	if err != nil {
		return err
	}

	opts := []resilience.Option{
		resilience.WithShowErrors(cfg.Speech.ShowErrorsOrDefault()),
		resilience.WithNotifier(a.server.Notices()),
		resilience.WithMetrics(a.metrics),
	}
	sc := cfg.Speech
	if sc.ProbeWord != "" {
		opts = append(opts, resilience.WithProbeWord(sc.ProbeWord))
	}
	if sc.ProbeTimeout > 0 {
		opts = append(opts, resilience.WithProbeTimeout(sc.ProbeTimeout))
	}
	if sc.OnDeviceProbeTimeout > 0 {
		opts = append(opts, resilience.WithOnDeviceProbeTimeout(sc.OnDeviceProbeTimeout))
	}
	if sc.VoiceListWait > 0 {
		opts = append(opts, resilience.WithVoiceListWait(sc.VoiceListWait))
	}
	if sc.AttemptTimeout > 0 {
		opts = append(opts, resilience.WithAttemptTimeout(sc.AttemptTimeout))
	}
	p := resilience.New(backends, opts...)

	var fetchers []server.Fetcher
	for _, b := range backends {
		if f, ok := b.(server.Fetcher); ok {
			fetchers = append(fetchers, f)
		}
	}

	a.mu.Lock()
	prev := a.current
	a.current = p
	a.cfg = cfg
	a.mu.Unlock()

	a.server.SetEngine(server.Engine{Speaker: p, Fetchers: fetchers})
	if prev != nil {
		prev.Close()
	}

	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	slog.Info("speech engine built", "backends", strings.Join(names, ","), "downloadable", len(fetchers))
	return nil
}

// reload applies a changed config file. It is the watcher callback.
func (a *App) reload(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged {
		a.level.Set(LevelOf(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AudioChanged {
		slog.Warn("audio settings changed; restart to apply")
	}
	if d.ServerChanged {
		slog.Warn("server settings changed; restart to apply")
	}
	for _, c := range d.BackendChanges {
		slog.Info("backend config changed", "backend", c.Name, "added", c.Added, "removed", c.Removed, "modified", c.Modified)
	}
	if !d.NeedsRebuild() {
		return
	}

	if err := a.rebuild(next); err != nil {
		slog.Error("config reload failed; keeping previous speech engine", "err", err)
		return
	}
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	go a.probe(ctx)
}

// probe runs a probe cycle on the current engine and logs the outcome.
func (a *App) probe(ctx context.Context) {
	p := a.Pronouncer()
	err := p.Initialize(ctx)
	switch {
	case err == nil:
		slog.Info("speech backends ready", "rotation", strings.Join(p.AvailableProviders(), ","))
	case errors.Is(err, resilience.ErrNoCandidates):
		slog.Warn("no speech backend passed the probe; pronunciation is unavailable until a reprobe")
	case ctx.Err() == nil:
		slog.Warn("initial probe failed", "err", err)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pronouncer returns the active failover client.
func (a *App) Pronouncer() *resilience.Pronouncer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Config returns the config the active engine was built from.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Handler returns the HTTP handler of the control surface.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Say pronounces word once on the active engine.
func (a *App) Say(ctx context.Context, word string, opts ...resilience.SpeakOption) (resilience.Result, error) {
	return a.Pronouncer().Speak(ctx, word, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run probes the backends, serves HTTP and watches the config file until ctx
// is cancelled. It returns ctx.Err() on a normal stop, or the first server or
// watcher error.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.probe(gctx)
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: config watcher: %w", err)
			}
			return nil
		})
	}

	if a.listener != nil || a.cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			err := a.serve()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "backends", len(a.cfg.Backends))
	<-gctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) serve() error {
	if a.listener != nil {
		return a.server.Serve(a.listener)
	}
	addr := a.cfg.Server.ListenAddr
	slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
	if tls := a.cfg.Server.TLS; tls != nil {
		return a.server.ListenAndServeTLS(addr, tls.CertFile, tls.KeyFile)
	}
	return a.server.ListenAndServe(addr)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown silences playback and stops the HTTP server, waiting for open
// requests until ctx ends. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if p := a.Pronouncer(); p != nil {
			p.Close()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
			return
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// LevelOf maps a config log level to slog. Unknown values map to info.
func LevelOf(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
