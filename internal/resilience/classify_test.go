package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Cause
	}{
		{"nil", nil, CauseOK},
		{"race timeout", fmt.Errorf("%w after 3s", errAttemptTimeout), CauseTimeout},
		{"deadline", context.DeadlineExceeded, CauseTimeout},
		{"canceled", context.Canceled, CauseCanceled},
		{"stream stopped", fmt.Errorf("play: %w", audio.ErrStreamStopped), CauseCanceled},
		{"403", &speech.StatusError{Backend: "bing", StatusCode: 403}, CauseForbidden},
		{"404", &speech.StatusError{Backend: "bing", StatusCode: 404}, CauseNotFound},
		{"429", fmt.Errorf("fetch: %w", &speech.StatusError{Backend: "baidu", StatusCode: 429}), CauseRateLimited},
		{"502", &speech.StatusError{Backend: "youdao", StatusCode: 502}, CauseUpstream},
		{"decode", fmt.Errorf("%w: bad frame", speech.ErrDecode), CauseDecode},
		{"playback", speech.ErrPlayback, CausePlayback},
		{"unavailable", speech.ErrUnavailable, CauseUnavailable},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CauseNetwork},
		{"net timeout", timeoutNetErr{}, CauseTimeout},
		{"other", errors.New("boom"), CauseUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
