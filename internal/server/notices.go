package server

import (
	"context"
	"sync"
	"time"

	"github.com/wordtetris/pronounce/internal/observe"
)

// Notice is a user-visible message about a word that could not be spoken.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NoticeBoard keeps the most recent notice and logs every one at warn level.
// It implements [resilience.Notifier].
type NoticeBoard struct {
	now func() time.Time

	mu        sync.Mutex
	last      *Notice
	listeners []func(Notice)
}

// NewNoticeBoard returns an empty board.
func NewNoticeBoard() *NoticeBoard {
	return &NoticeBoard{now: time.Now}
}

// Notify records message as the latest notice.
func (b *NoticeBoard) Notify(ctx context.Context, message string) {
	observe.Logger(ctx).Warn("pronunciation notice", "message", message)

	n := Notice{Message: message, At: b.now()}
	b.mu.Lock()
	b.last = &n
	listeners := b.listeners
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(n)
	}
}

// listen registers fn to be called with every later notice.
func (b *NoticeBoard) listen(fn func(Notice)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners[:len(b.listeners):len(b.listeners)], fn)
}

// Last returns the latest notice, if any.
func (b *NoticeBoard) Last() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Notice{}, false
	}
	return *b.last, true
}
