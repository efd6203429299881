package audio

import "time"

// Format describes the sample rate and channel count of 16-bit little-endian
// PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Clip is a complete, decoded utterance ready for playback.
type Clip struct {
	// Data holds signed 16-bit little-endian PCM samples, interleaved when
	// Format.Channels > 1.
	Data []byte

	// Format describes Data.
	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bytesPerSecond := c.Format.SampleRate * c.Format.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Empty reports whether the clip holds no samples.
func (c Clip) Empty() bool {
	return len(c.Data) < 2
}
