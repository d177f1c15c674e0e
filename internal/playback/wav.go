package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// ErrNotWAV is returned for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("playback: not a RIFF/WAVE file")

type wavFormat struct {
	tag           uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// DecodeWAV decodes 8, 16, 24 and 32-bit integer PCM and 32-bit float WAV
// data into a mono buffer. Channels are averaged.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		f       *wavFormat
		payload []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			// Truncated files keep whatever audio is present.
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			parsed, err := parseFormat(body)
			if err != nil {
				return nil, err
			}
			f = parsed
		case "data":
			payload = body
		}
		// Chunks are word aligned.
		off += 8 + size + size%2
	}

	if f == nil {
		return nil, fmt.Errorf("playback: missing fmt chunk")
	}
	if payload == nil {
		return nil, fmt.Errorf("playback: missing data chunk")
	}
	return decodeSamples(f, payload)
}

func parseFormat(b []byte) (*wavFormat, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("playback: fmt chunk too short (%d bytes)", len(b))
	}
	f := &wavFormat{
		tag:           binary.LittleEndian.Uint16(b[0:2]),
		channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		bitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if f.tag == formatExtensible {
		if len(b) < 26 {
			return nil, fmt.Errorf("playback: extensible fmt chunk too short")
		}
		// The sub-format GUID starts with the real format tag.
		f.tag = binary.LittleEndian.Uint16(b[24:26])
	}
	if f.channels < 1 {
		return nil, fmt.Errorf("playback: invalid channel count %d", f.channels)
	}
	if f.sampleRate < 1 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", f.sampleRate)
	}
	switch {
	case f.tag == formatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16 || f.bitsPerSample == 24 || f.bitsPerSample == 32):
	case f.tag == formatFloat && f.bitsPerSample == 32:
	default:
		return nil, fmt.Errorf("playback: unsupported format %d with %d bits", f.tag, f.bitsPerSample)
	}
	return f, nil
}

func decodeSamples(f *wavFormat, payload []byte) (*Buffer, error) {
	width := f.bitsPerSample / 8
	frameSize := width * f.channels
	frames := len(payload) / frameSize

	buf := &Buffer{
		SampleRate: f.sampleRate,
		Channels:   f.channels,
		Samples:    make([]float32, frames),
	}
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < f.channels; ch++ {
			off := i*frameSize + ch*width
			sum += sample(f, payload[off:off+width])
		}
		buf.Samples[i] = sum / float32(f.channels)
	}
	return buf, nil
}

func sample(f *wavFormat, b []byte) float32 {
	if f.tag == formatFloat {
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	switch f.bitsPerSample {
	case 8:
		return (float32(b[0]) - 128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v -= 1 << 24
		}
		return float32(v) / 8388608
	default:
		return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}
