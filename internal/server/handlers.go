package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wordtetris/pronounce/internal/observe"
	"github.com/wordtetris/pronounce/internal/resilience"
	"github.com/wordtetris/pronounce/internal/suggest"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// defaultAudioProvider is used by /v1/audio when no provider is named and a
// backend of that name exists.
const defaultAudioProvider = "youdao"

type speakRequest struct {
	Word      string   `json:"word"`
	Volume    *float64 `json:"volume,omitempty"`
	TimeoutMS int      `json:"timeout_ms,omitempty"`
}

type speakResponse struct {
	UtteranceID string `json:"utterance_id"`
	Provider    string `json:"provider"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	Retried     bool   `json:"retried"`
}

type providerView struct {
	Name                string      `json:"name"`
	Kind                speech.Kind `json:"kind"`
	ResponseMS          int64       `json:"response_ms"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	NeedsVerification   bool        `json:"needs_verification"`
	Detail              string      `json:"detail,omitempty"`
	Current             bool        `json:"current"`
}

type providersResponse struct {
	Probed     bool           `json:"probed"`
	Current    string         `json:"current,omitempty"`
	Providers  []providerView `json:"providers"`
	LastNotice *Notice        `json:"last_notice,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "speech engine not ready")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Word) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	var opts []resilience.SpeakOption
	if req.Volume != nil {
		opts = append(opts, resilience.WithVolume(*req.Volume))
	}
	if req.TimeoutMS > 0 {
		opts = append(opts, resilience.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	res, err := e.Speaker.Speak(r.Context(), req.Word, opts...)
	switch {
	case err == nil:
		s.events.publish(Event{Type: EventSpoken, Word: req.Word, Provider: res.Provider, ElapsedMS: res.Elapsed.Milliseconds()})
		writeJSON(w, http.StatusOK, speakResponse{
			UtteranceID: res.UtteranceID,
			Provider:    res.Provider,
			ElapsedMS:   res.Elapsed.Milliseconds(),
			Retried:     res.Retried,
		})
	case errors.Is(err, resilience.ErrCanceled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, resilience.ErrNoCandidates), errors.Is(err, resilience.ErrAllProvidersExhausted):
		s.events.publish(Event{Type: EventFailed, Word: req.Word, Message: err.Error()})
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		observe.Logger(r.Context()).Error("speak failed unexpectedly", "err", err)
		s.events.publish(Event{Type: EventFailed, Word: req.Word, Message: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if e, ok := s.current(); ok {
		e.Speaker.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	e, ok := s.current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "speech engine not ready")
		return
	}
	writeJSON(w, http.StatusOK, s.providersOf(e.Speaker))
}

func (s *Server) handleReprobe(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "speech engine not ready")
		return
	}

	err := e.Speaker.Reprobe(r.Context())
	resp := s.providersOf(e.Speaker)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, resilience.ErrNoCandidates):
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	}
}

func (s *Server) providersOf(sp Speaker) providersResponse {
	infos := sp.Providers()
	resp := providersResponse{
		Probed:    sp.Probed(),
		Providers: make([]providerView, 0, len(infos)),
	}
	if cur, ok := sp.CurrentProvider(); ok {
		resp.Current = cur
	}
	for _, p := range infos {
		resp.Providers = append(resp.Providers, providerView{
			Name:                p.Name,
			Kind:                p.Kind,
			ResponseMS:          p.ResponseTime.Milliseconds(),
			ConsecutiveFailures: p.ConsecutiveFailures,
			NeedsVerification:   p.NeedsVerification,
			Detail:              p.Detail,
			Current:             p.Current,
		})
	}
	if n, ok := s.notices.Last(); ok {
		resp.LastNotice = &n
	}
	return resp
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	word := strings.TrimSpace(r.URL.Query().Get("word"))
	if word == "" {
		writeError(w, http.StatusBadRequest, "missing word")
		return
	}

	var fetchers []Fetcher
	if e, ok := s.current(); ok {
		fetchers = e.Fetchers
	}
	name := r.URL.Query().Get("provider")
	f, ok := pickFetcher(fetchers, name)
	if !ok {
		msg := "no remote audio provider named " + strconv.Quote(name)
		names := make([]string, len(fetchers))
		for i, f := range fetchers {
			names[i] = f.Name()
		}
		if near, ok := suggest.Closest(name, names); ok {
			msg += "; did you mean " + strconv.Quote(near) + "?"
		}
		writeError(w, http.StatusNotFound, msg)
		return
	}

	data, contentType, err := f.Fetch(r.Context(), word)
	if err != nil {
		var se *speech.StatusError
		switch {
		case errors.As(err, &se):
			writeError(w, se.StatusCode, fmt.Sprintf("upstream %d", se.StatusCode))
		case r.Context().Err() != nil:
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			observe.Logger(r.Context()).Warn("audio fetch failed", "provider", f.Name(), "word", word, "err", err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "audio/mpeg"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.mp3"`, fileStem(word), f.Name()))
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAudioPreflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// pickFetcher finds the fetcher called name, case-insensitively. An empty
// name selects the default provider when configured, else the first fetcher.
func pickFetcher(fs []Fetcher, name string) (Fetcher, bool) {
	name = strings.TrimSpace(name)
	want := name
	if want == "" {
		want = defaultAudioProvider
	}
	for _, f := range fs {
		if strings.EqualFold(f.Name(), want) {
			return f, true
		}
	}
	if name == "" && len(fs) > 0 {
		return fs[0], true
	}
	return nil, false
}

// fileStem lowercases word and drops characters that would break a quoted
// Content-Disposition filename.
func fileStem(word string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/' || unicode.IsControl(r):
			return -1
		default:
			return unicode.ToLower(r)
		}
	}, word)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
