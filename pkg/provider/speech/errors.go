package speech

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable is returned when a backend lacks a capability it needs at
	// attempt time, e.g. the engine binary vanished or no voice is installed.
	ErrUnavailable = errors.New("speech: backend unavailable")

	// ErrDecode is returned when fetched or synthesised audio cannot be
	// decoded to PCM.
	ErrDecode = errors.New("speech: audio decode failed")

	// ErrPlayback is returned when the audio sink rejects or aborts a clip.
	ErrPlayback = errors.New("speech: playback failed")
)

// StatusError reports a non-2xx response from a remote audio endpoint.
type StatusError struct {
	// Backend is the name of the backend that made the request.
	Backend string

	// StatusCode is the HTTP status returned by the endpoint.
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speech: %s: unexpected status %d %s", e.Backend, e.StatusCode, http.StatusText(e.StatusCode))
}
