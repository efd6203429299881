package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/wordtetris/pronounce/pkg/audio"
)

func TestDecodeWAV_EncodedClip(t *testing.T) {
	clip := audio.Clip{
		Data:   samplesToBytes([]int16{1, -2, 3, -4}),
		Format: audio.Format{SampleRate: 22050, Channels: 1},
	}
	got, err := audio.Decode(audio.EncodeWAV(clip))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != clip.Format {
		t.Errorf("format = %+v, want %+v", got.Format, clip.Format)
	}
	samples := bytesToSamples(got.Data)
	want := []int16{1, -2, 3, -4}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestDecodeWAV_StreamedPlaceholderSize(t *testing.T) {
	// Engines writing to a pipe leave 0xFFFFFFFF in the data size.
	wav := audio.EncodeWAV(audio.Clip{
		Data:   samplesToBytes([]int16{10, 20, 30}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	got, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if n := len(got.Data); n != 6 {
		t.Errorf("data length = %d, want 6", n)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	wav := audio.EncodeWAV(audio.Clip{
		Data:   samplesToBytes([]int16{7, 8}),
		Format: audio.Format{SampleRate: 24000, Channels: 2},
	})
	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	patched := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, err := audio.DecodeWAV(patched)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.Format.Channels != 2 || got.Format.SampleRate != 24000 {
		t.Errorf("format = %+v", got.Format)
	}
	if len(got.Data) != 4 {
		t.Errorf("data length = %d, want 4", len(got.Data))
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	valid := audio.EncodeWAV(audio.Clip{
		Data:   samplesToBytes([]int16{1}),
		Format: audio.Format{SampleRate: 8000, Channels: 1},
	})

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	float := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"no RIFF", append([]byte("RIFX"), valid[4:]...)},
		{"no WAVE", append(append([]byte{}, valid[:8]...), append([]byte("AVI "), valid[12:]...)...)},
		{"no data chunk", valid[:36]},
		{"8-bit", eightBit},
		{"float encoding", float},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_UnsupportedContainer(t *testing.T) {
	_, err := audio.Decode([]byte("<html>not audio</html>"))
	if !errors.Is(err, audio.ErrUnsupportedContainer) {
		t.Errorf("err = %v, want ErrUnsupportedContainer", err)
	}
}

func TestDecode_CorruptMP3(t *testing.T) {
	// ID3 magic routes to the MP3 decoder, which must reject the garbage body.
	_, err := audio.Decode(append([]byte("ID3"), make([]byte, 64)...))
	if err == nil {
		t.Fatal("expected error for corrupt mp3")
	}
	if errors.Is(err, audio.ErrUnsupportedContainer) {
		t.Error("corrupt mp3 should not be reported as unsupported container")
	}
}
