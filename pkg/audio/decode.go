package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedContainer is returned by [Decode] when the payload is neither
// RIFF/WAVE nor MPEG audio.
var ErrUnsupportedContainer = errors.New("audio: unsupported container")

// Decode sniffs the container of data and decodes it to a PCM clip.
// WAV (RIFF/WAVE) and MP3 (ID3 tag or MPEG frame sync) are recognised.
func Decode(data []byte) (Clip, error) {
	switch {
	case IsWAV(data):
		return DecodeWAV(data)
	case isMP3(data):
		return DecodeMP3(data)
	default:
		return Clip{}, ErrUnsupportedContainer
	}
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// 11-bit frame sync.
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes an MP3 payload. go-mp3 always yields 16-bit stereo at the
// stream's native sample rate.
func DecodeMP3(data []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("audio: mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: mp3: %w", err)
	}
	clip := Clip{
		Data:   pcm,
		Format: Format{SampleRate: dec.SampleRate(), Channels: 2},
	}
	if clip.Empty() {
		return Clip{}, errors.New("audio: mp3: no samples decoded")
	}
	return clip, nil
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE payload.
//
// The declared data chunk size is ignored and every byte after the chunk
// header is treated as samples: engines streaming WAV to a pipe cannot seek
// back to patch the size and leave a placeholder there.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 {
		return Clip{}, errors.New("audio: wav: too short to be a valid RIFF file")
	}
	if string(data[0:4]) != "RIFF" {
		return Clip{}, errors.New("audio: wav: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: wav: missing WAVE identifier")
	}

	var (
		format   Format
		bits     = 16
		foundFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(data) {
				fmtData := data[offset+8:]
				if tag := binary.LittleEndian.Uint16(fmtData[0:2]); tag != 1 && tag != 0xFFFE {
					return Clip{}, fmt.Errorf("audio: wav: unsupported encoding tag %d", tag)
				}
				format.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				format.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				format = Format{SampleRate: 22050, Channels: 1}
			}
			if bits != 16 {
				return Clip{}, fmt.Errorf("audio: wav: unsupported bit depth %d", bits)
			}
			if format.SampleRate <= 0 || format.Channels <= 0 {
				return Clip{}, errors.New("audio: wav: invalid fmt chunk")
			}
			pcm := data[offset+8:]
			// Trim a trailing half sample.
			pcm = pcm[:len(pcm)-len(pcm)%2]
			return Clip{Data: pcm, Format: format}, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Clip{}, errors.New("audio: wav: missing data chunk")
}

// EncodeWAV wraps clip in a minimal RIFF/WAVE container.
func EncodeWAV(clip Clip) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(clip.Data))
	blockAlign := uint16(clip.Format.Channels * 2)
	byteRate := uint32(clip.Format.SampleRate) * uint32(blockAlign)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(clip.Format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(clip.Format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(clip.Data)
	return buf.Bytes()
}
