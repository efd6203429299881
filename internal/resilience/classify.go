package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// Cause is the coarse category of a failed attempt. It is used as the
// "status" attribute on attempt metrics and in failure log lines.
type Cause string

const (
	CauseOK          Cause = "ok"
	CauseTimeout     Cause = "timeout"
	CauseCanceled    Cause = "canceled"
	CauseForbidden   Cause = "forbidden"
	CauseNotFound    Cause = "not_found"
	CauseRateLimited Cause = "rate_limited"
	CauseUpstream    Cause = "upstream"
	CauseNetwork     Cause = "network"
	CauseDecode      Cause = "decode"
	CausePlayback    Cause = "playback"
	CauseUnavailable Cause = "unavailable"
	CauseUnknown     Cause = "unknown"
)

// errAttemptTimeout marks an attempt that lost the race against its timer.
var errAttemptTimeout = errors.New("attempt timed out")

// errAttemptPanic marks an attempt whose backend panicked.
var errAttemptPanic = errors.New("backend panicked")

// Classify maps an attempt error to a [Cause]. A nil error is [CauseOK].
func Classify(err error) Cause {
	if err == nil {
		return CauseOK
	}

	var statusErr *speech.StatusError
	var netErr net.Error

	switch {
	case errors.Is(err, errAttemptTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, audio.ErrStreamStopped):
		return CauseCanceled
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case 401, 403:
			return CauseForbidden
		case 404, 410:
			return CauseNotFound
		case 429:
			return CauseRateLimited
		default:
			return CauseUpstream
		}
	case errors.Is(err, speech.ErrDecode):
		return CauseDecode
	case errors.Is(err, speech.ErrPlayback):
		return CausePlayback
	case errors.Is(err, speech.ErrUnavailable):
		return CauseUnavailable
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return CauseTimeout
		}
		return CauseNetwork
	default:
		return CauseUnknown
	}
}

// hint returns a short operator-facing suggestion for c, or "".
func (c Cause) hint() string {
	switch c {
	case CauseTimeout:
		return "network latency or an overloaded endpoint"
	case CauseForbidden:
		return "the endpoint refused the request, possibly an access restriction"
	case CauseNotFound:
		return "the endpoint URL may have changed"
	case CauseRateLimited:
		return "the endpoint is throttling requests"
	case CauseNetwork:
		return "check network connectivity"
	case CausePlayback:
		return "check the audio output device"
	default:
		return ""
	}
}
