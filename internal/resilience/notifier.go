package resilience

import (
	"context"
	"errors"

	"github.com/wordtetris/pronounce/internal/observe"
)

// Notifier receives the short, user-visible notice emitted when a word could
// not be pronounced at all.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a plain function to [Notifier].
type NotifierFunc func(ctx context.Context, message string)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, message string) { f(ctx, message) }

// LogNotifier writes notices to the structured log at warn level.
type LogNotifier struct{}

// Notify implements [Notifier].
func (LogNotifier) Notify(ctx context.Context, message string) {
	observe.Logger(ctx).Warn("pronunciation notice", "message", message)
}

// noticeFor returns the user-facing text for a terminal Speak error.
func noticeFor(err error) string {
	if errors.Is(err, ErrNoCandidates) {
		return "Pronunciation is unavailable: no speech service could be reached."
	}
	return "Pronunciation failed: every speech service is unavailable right now. Check your network connection."
}
