package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// WAV format tags.
const (
	wavFormatPCM        = 0x0001
	wavFormatIEEEFloat  = 0x0003
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder decodes RIFF/WAVE containers without external tools.
// It supports integer PCM (8, 16, 24, 32 bit), IEEE float (32, 64 bit)
// and WAVE_FORMAT_EXTENSIBLE wrapping either.
type WAVDecoder struct{}

var _ Decoder = WAVDecoder{}

// wavFormat holds the fields of a "fmt " chunk the decoder needs.
type wavFormat struct {
	tag           uint16
	channels      int
	sampleRate    int
	blockAlign    int
	bitsPerSample int
}

// Decode parses data as a WAV file.
func (WAVDecoder) Decode(_ context.Context, data []byte) (*Stream, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}

	var (
		fmtChunk *wavFormat
		payload  []byte
	)

	// Walk chunks; "fmt " must precede "data".
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+size > len(data) {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrCorruptAudio)
			}
			f, err := parseWAVFormat(data[body : body+size])
			if err != nil {
				return nil, err
			}
			fmtChunk = f
		case "data":
			if fmtChunk == nil {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrCorruptAudio)
			}
			// Streaming writers cannot seek back to patch sizes: they leave
			// 0xFFFFFFFF, a large placeholder, or 0 in both headers. The
			// payload then runs to the end of the input, whole frames only.
			avail := len(data) - body
			if size > avail || (size == 0 && unpatchedRIFF(data)) {
				size = avail - avail%fmtChunk.blockAlign
			}
			payload = data[body : body+size]
		}
		if payload != nil {
			break
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}

	if fmtChunk == nil {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrCorruptAudio)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrCorruptAudio)
	}

	return decodeWAVSamples(fmtChunk, payload)
}

// unpatchedRIFF reports whether the RIFF size field was never filled in.
func unpatchedRIFF(data []byte) bool {
	n := binary.LittleEndian.Uint32(data[4:8])
	return n == 0 || n == math.MaxUint32
}

func parseWAVFormat(b []byte) (*wavFormat, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrCorruptAudio, len(b))
	}
	f := &wavFormat{
		tag:           binary.LittleEndian.Uint16(b[0:2]),
		channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		blockAlign:    int(binary.LittleEndian.Uint16(b[12:14])),
		bitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}

	if f.tag == wavFormatExtensible {
		// cbSize(2) validBits(2) channelMask(4) subFormat GUID(16); first two bytes of the GUID are the tag.
		if len(b) < 26 {
			return nil, fmt.Errorf("%w: extensible fmt chunk too short", ErrCorruptAudio)
		}
		f.tag = binary.LittleEndian.Uint16(b[24:26])
	}

	switch {
	case f.tag == wavFormatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16 ||
		f.bitsPerSample == 24 || f.bitsPerSample == 32):
	case f.tag == wavFormatIEEEFloat && (f.bitsPerSample == 32 || f.bitsPerSample == 64):
	default:
		return nil, fmt.Errorf("%w: WAV format tag 0x%04x with %d bits",
			ErrUnsupportedFormat, f.tag, f.bitsPerSample)
	}

	if f.channels == 0 || f.sampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrCorruptAudio, f.channels, f.sampleRate)
	}
	if want := f.channels * f.bitsPerSample / 8; f.blockAlign != want {
		return nil, fmt.Errorf("%w: block align %d, want %d", ErrCorruptAudio, f.blockAlign, want)
	}
	return f, nil
}

func decodeWAVSamples(f *wavFormat, payload []byte) (*Stream, error) {
	frames := len(payload) / f.blockAlign
	width := f.bitsPerSample / 8

	channels := make([][]float32, f.channels)
	for c := range channels {
		channels[c] = make([]float32, frames)
	}

	for i := range frames {
		frame := payload[i*f.blockAlign:]
		for c := range f.channels {
			channels[c][i] = decodeWAVSample(f.tag, frame[c*width:c*width+width])
		}
	}

	return NewStream(f.sampleRate, channels)
}

// decodeWAVSample converts one little-endian sample to a float in [-1, 1].
// Integer samples scale asymmetrically so that encoding is exactly reversible.
func decodeWAVSample(tag uint16, b []byte) float32 {
	if tag == wavFormatIEEEFloat {
		if len(b) == 8 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch len(b) {
	case 1:
		// 8-bit WAV is unsigned.
		return scaleInt(int64(b[0])-128, 1<<7)
	case 2:
		return scaleInt(int64(int16(binary.LittleEndian.Uint16(b))), 1<<15)
	case 3:
		v := int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
		return scaleInt(int64(v), 1<<23)
	default:
		return scaleInt(int64(int32(binary.LittleEndian.Uint32(b))), 1<<31)
	}
}

func scaleInt(v, full int64) float32 {
	if v < 0 {
		return float32(float64(v) / float64(full))
	}
	peak := float64(full - 1)
	f := float32(float64(v) / peak)
	// Rounding to float32 may land just below v/peak; truncating quantizers
	// would then lose one step.
	if int64(float64(f)*peak) < v {
		f = math.Nextafter32(f, 1)
	}
	return f
}
