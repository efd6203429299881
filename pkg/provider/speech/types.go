package speech

// Kind distinguishes the two families of backends.
type Kind string

const (
	// KindOnDevice synthesises speech locally.
	KindOnDevice Kind = "on_device"

	// KindRemoteAudio downloads a ready-made audio file for the word.
	KindRemoteAudio Kind = "remote_audio"
)

// IsValid reports whether k is a recognised backend kind.
func (k Kind) IsValid() bool {
	return k == KindOnDevice || k == KindRemoteAudio
}

// Request describes one real attempt to pronounce a word.
type Request struct {
	// Word is the text to pronounce. Never empty.
	Word string

	// Volume is the playback gain in the range [0, 1].
	Volume float64

	// Handles receives the playback resource created by the attempt. Never nil
	// when called by the failover client; backends fall back to [NopRegistrar]
	// when it is.
	Handles Registrar
}

// ProbeReport is the outcome of a successful silent probe.
type ProbeReport struct {
	// Degraded is set when the probe succeeded using a non-preferred capability
	// (for example a fallback voice) that may fail under real conditions.
	Degraded bool

	// Detail is a short human-readable note, e.g. the selected voice.
	Detail string
}

// NopRegistrar is a [Registrar] that tracks nothing.
var NopRegistrar Registrar = nopRegistrar{}

type nopRegistrar struct{}

func (nopRegistrar) Track(Handle) func() { return func() {} }

// RegistrarOrNop returns r, or [NopRegistrar] when r is nil.
func RegistrarOrNop(r Registrar) Registrar {
	if r == nil {
		return NopRegistrar
	}
	return r
}
