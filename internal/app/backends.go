package app

import (
	"log/slog"

	"github.com/wordtetris/pronounce/internal/config"
	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
	"github.com/wordtetris/pronounce/pkg/provider/speech/espeak"
	"github.com/wordtetris/pronounce/pkg/provider/speech/remote"
)

// RegisterBuiltins wires the backend kinds that ship with the daemon into
// reg. sc supplies defaults shared by every backend of a kind.
func RegisterBuiltins(reg *config.Registry, sc config.SpeechConfig) {
	reg.Register(speech.KindRemoteAudio, func(e config.BackendEntry, sink audio.Sink) (speech.Backend, error) {
		tmpl, err := config.ResolveURL(e)
		if err != nil {
			return nil, err
		}
		var opts []remote.Option
		if e.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(e.Timeout))
		}
		if e.RequestsPerMinute > 0 {
			opts = append(opts, remote.WithRequestsPerMinute(e.RequestsPerMinute))
		}
		return remote.New(e.Name, tmpl, sink, opts...)
	})

	reg.Register(speech.KindOnDevice, func(e config.BackendEntry, sink audio.Sink) (speech.Backend, error) {
		var opts []espeak.Option
		if e.Binary != "" {
			opts = append(opts, espeak.WithBinary(e.Binary))
		}
		if e.Accent != "" {
			opts = append(opts, espeak.WithAccent(e.Accent))
		}
		rate, ok, err := e.OptionInt("rate")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, espeak.WithRate(rate))
		}
		if sc.VoiceListWait > 0 {
			opts = append(opts, espeak.WithVoiceListWait(sc.VoiceListWait))
		}
		b := espeak.New(e.Name, sink, opts...)
		if b.Binary() == "" {
			slog.Warn("no espeak-ng or espeak binary found; backend will be skipped by the prober", "backend", e.Name)
		}
		return b, nil
	})

	for _, k := range reg.Kinds() {
		slog.Debug("registered backend kind", "kind", k)
	}
}
