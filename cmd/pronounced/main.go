// Command pronounced is the pronunciation daemon. It speaks single words
// through the fastest working speech backend and exposes an HTTP control
// surface.
//
//	pronounced -config pronounce.yaml              run the daemon
//	pronounced -config pronounce.yaml -say apple   speak one word and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wordtetris/pronounce/internal/app"
	"github.com/wordtetris/pronounce/internal/config"
	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/resilience"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
	"github.com/wordtetris/pronounce/pkg/provider/speech/remote"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "pronounce.yaml", "path to the YAML configuration file")
	say := flag.String("say", "", "pronounce this word once and exit")
	volume := flag.Float64("volume", 1, "playback volume for -say, 0 to 1")
	watch := flag.Duration("watch", 2*time.Second, "config reload poll interval; 0 disables reloading")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pronounced: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pronounced: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.LevelOf(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("pronounced starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	opts := []app.Option{app.WithLevelVar(level)}
	if *say == "" && *watch > 0 {
		opts = append(opts, app.WithWatch(*configPath, *watch))
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *say != "" {
		return sayOnce(ctx, application, *say, *volume)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// sayOnce probes, speaks word and prints the backend that spoke it.
func sayOnce(ctx context.Context, application *app.App, word string, volume float64) int {
	defer func() { _ = application.Shutdown(context.Background()) }()

	res, err := application.Say(ctx, word, resilience.WithVolume(volume))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pronounced: %v\n", err)
		return 1
	}
	if res.Provider == "" {
		fmt.Fprintln(os.Stderr, "pronounced: nothing to say")
		return 0
	}
	fmt.Printf("%s\t%s\t%dms\n", word, res.Provider, res.Elapsed.Milliseconds())
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       pronounced: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, b := range cfg.Backends {
		printRow(b.Name, describe(b))
	}
	if len(cfg.Backends) == 0 {
		printRow("Backends", "(none)")
	}
	output := string(cfg.Audio.Output)
	if output == "" {
		output = string(config.AudioOutputDevice)
	}
	printRow("Audio", output)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func describe(b config.BackendEntry) string {
	switch {
	case b.URL != "":
		return string(b.Kind) + " (url)"
	case b.Preset != "":
		return string(b.Kind) + " / " + b.Preset
	default:
		if _, ok := remote.Preset(b.Name); ok && b.Kind == speech.KindRemoteAudio {
			return string(b.Kind) + " / preset"
		}
		return string(b.Kind)
	}
}

func printRow(label, value string) {
	if len(label) > 12 {
		label = label[:11] + "…"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
