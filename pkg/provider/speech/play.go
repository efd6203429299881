package speech

import (
	"context"
	"fmt"

	"github.com/wordtetris/pronounce/pkg/audio"
)

// Play plays clip on sink for backend and blocks until it finishes. The
// stream is registered with req.Handles for its whole lifetime and stopped
// when Wait ends early, so a cancelled attempt never leaves audio behind.
func Play(ctx context.Context, backend string, sink audio.Sink, clip audio.Clip, req Request) error {
	stream, err := audio.PlayClip(ctx, sink, clip, req.Volume)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPlayback, backend, err)
	}
	release := RegistrarOrNop(req.Handles).Track(stream)
	defer release()

	if err := stream.Wait(ctx); err != nil {
		stream.Stop()
		return fmt.Errorf("%s: %w", backend, err)
	}
	return nil
}
