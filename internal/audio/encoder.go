package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// MIMETypeWAV is the media type of rendered chunks.
const MIMETypeWAV = "audio/wav"

const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	maxWAVPayload  = math.MaxUint32 - (wavHeaderSize - 8)
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodedChunk is a self-contained audio container for one range.
type EncodedChunk struct {
	Data     []byte
	Range    ChunkRange
	MIMEType string
}

// Encoder renders ranges of a Stream to 16-bit PCM WAV.
// The zero value preserves the stream's rate and channel layout.
type Encoder struct {
	downmix    bool
	sampleRate int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithDownmix averages all channels into one.
func WithDownmix() EncoderOption {
	return func(e *Encoder) { e.downmix = true }
}

// WithSampleRate resamples rendered chunks to hz using linear interpolation.
// A value <= 0 keeps the source rate.
func WithSampleRate(hz int) EncoderOption {
	return func(e *Encoder) { e.sampleRate = hz }
}

// NewEncoder creates an Encoder with the given options.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render encodes the samples of s covering rng with the canonical layout.
func Render(s *Stream, rng ChunkRange) (EncodedChunk, error) {
	var e Encoder
	return e.Render(s, rng)
}

// Render extracts frames [floor(Start*rate), floor(End*rate)) from s and
// encodes them. The upper bound is clamped to the frame count, and a range
// reaching the end of the stream always includes the last frame.
func (e *Encoder) Render(s *Stream, rng ChunkRange) (EncodedChunk, error) {
	if rng.Start < 0 || rng.End <= rng.Start {
		return EncodedChunk{}, fmt.Errorf("%w: %s", ErrInvalidRange, rng)
	}

	frames := s.Frames()
	start := min(sampleIndex(rng.Start, s.sampleRate), frames)
	end := min(sampleIndex(rng.End, s.sampleRate), frames)
	if rng.End >= s.Duration() {
		end = frames
	}

	channels := make([][]float32, s.Channels())
	for i := range channels {
		channels[i] = s.channels[i][start:end]
	}

	rate := s.sampleRate
	if e.downmix && len(channels) > 1 {
		channels = [][]float32{downmix(channels)}
	}
	if e.sampleRate > 0 && e.sampleRate != rate {
		for i, ch := range channels {
			channels[i] = resample(ch, rate, e.sampleRate)
		}
		rate = e.sampleRate
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(channels)*len(channels[0])*bytesPerSample)
	if err := EncodeWAV(&buf, rate, channels); err != nil {
		return EncodedChunk{}, fmt.Errorf("encode %s: %w", rng, err)
	}

	return EncodedChunk{
		Data:     buf.Bytes(),
		Range:    rng,
		MIMEType: MIMETypeWAV,
	}, nil
}

// EncodeWAV writes planar samples as a canonical 16-bit PCM WAV.
// Frames are interleaved in channel order.
func EncodeWAV(w io.Writer, sampleRate int, channels [][]float32) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(channels) == 0 || len(channels) > math.MaxUint16 {
		return fmt.Errorf("unsupported channel count: %d", len(channels))
	}

	numChannels := len(channels)
	frames := len(channels[0])
	payload := uint64(frames) * uint64(numChannels) * bytesPerSample
	if payload > maxWAVPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payload)
	}

	blockAlign := numChannels * bytesPerSample
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + payload),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(numChannels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(payload),
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write WAV header: %w", err)
	}

	data := make([]byte, payload)
	off := 0
	for f := range frames {
		for c := range numChannels {
			binary.LittleEndian.PutUint16(data[off:], uint16(quantize(channels[c][f])))
			off += bytesPerSample
		}
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write WAV data: %w", err)
	}
	return nil
}

// quantize converts a float sample to int16.
// Values are clamped to [-1, 1]; negatives scale by 32768, others by 32767,
// truncating toward zero. NaN maps to silence.
func quantize(v float32) int16 {
	if v != v {
		return 0
	}
	x := float64(max(-1, min(1, v)))
	if x < 0 {
		return int16(x * 0x8000)
	}
	return int16(x * 0x7FFF)
}

// downmix averages channels into one.
func downmix(channels [][]float32) []float32 {
	out := make([]float32, len(channels[0]))
	scale := 1 / float32(len(channels))
	for _, ch := range channels {
		for i, v := range ch {
			out[i] += v * scale
		}
	}
	return out
}

// resample converts samples from one rate to another with linear interpolation.
func resample(in []float32, from, to int) []float32 {
	if len(in) == 0 {
		return in
	}
	n := int(uint64(len(in)) * uint64(to) / uint64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
