package resilience

import (
	"context"

	"github.com/wordtetris/pronounce/internal/playback"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// scopedRegistrar forwards handles to set while ctx is live. A handle
// registered after ctx is done is stopped immediately, so an abandoned attempt
// can never start audible playback.
//
// Whoever cancels ctx must call set.StopAll afterwards.
type scopedRegistrar struct {
	ctx context.Context
	set *playback.Set
}

func (s scopedRegistrar) Track(h speech.Handle) func() {
	if s.ctx.Err() != nil {
		h.Stop()
		return func() {}
	}
	release := s.set.Track(h)
	if s.ctx.Err() != nil {
		// Cancelled between the check and Track; StopAll may have missed it.
		release()
		h.Stop()
		return func() {}
	}
	return release
}
