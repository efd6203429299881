package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/wordtetris/pronounce/internal/observe"
)

// Event types streamed on /v1/events.
const (
	EventSpoken = "spoken"
	EventFailed = "failed"
	EventNotice = "notice"
)

const (
	// eventBuffer is how many events a subscriber may fall behind before
	// further events are dropped for it.
	eventBuffer = 32

	eventWriteTimeout = 5 * time.Second
)

// Event is one outcome published to /v1/events subscribers.
type Event struct {
	Type      string    `json:"type"`
	Word      string    `json:"word,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// eventHub fans events out to subscribers. Slow subscribers lose events
// rather than block publishers.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan Event]struct{})}
}

// subscribe registers a subscriber. The returned func unregisters it.
func (h *eventHub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *eventHub) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *eventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents upgrades to a websocket and streams every published [Event]
// as a JSON text message until the client goes away. Messages from the
// client are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("events upgrade rejected", "err", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.events.subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				observe.Logger(r.Context()).Debug("events subscriber dropped", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
