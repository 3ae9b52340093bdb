package audio

import (
	"fmt"
	"time"
)

// Stream is decoded audio held in memory.
// Samples are planar: one slice per channel, normalized to [-1, 1],
// all channels of equal length. A Stream is read-only once built.
type Stream struct {
	sampleRate int
	channels   [][]float32
}

// NewStream validates and wraps decoded channel data.
// The channel slices are retained, not copied.
func NewStream(sampleRate int, channels [][]float32) (*Stream, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrCorruptAudio, sampleRate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrCorruptAudio)
	}
	frames := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != frames {
			return nil, fmt.Errorf("%w: channel %d has %d frames, want %d",
				ErrCorruptAudio, i+1, len(ch), frames)
		}
	}
	return &Stream{sampleRate: sampleRate, channels: channels}, nil
}

// SampleRate returns the sample rate in Hz.
func (s *Stream) SampleRate() int { return s.sampleRate }

// Channels returns the number of channels.
func (s *Stream) Channels() int { return len(s.channels) }

// Frames returns the number of samples per channel.
func (s *Stream) Frames() int { return len(s.channels[0]) }

// Channel returns the samples of channel i. The slice must not be modified.
func (s *Stream) Channel(i int) []float32 { return s.channels[i] }

// Duration returns the stream length, truncated to the nanosecond.
func (s *Stream) Duration() time.Duration {
	return framesToDuration(s.Frames(), s.sampleRate)
}

// framesToDuration converts a frame count to a duration without overflowing
// for long recordings.
func framesToDuration(frames, rate int) time.Duration {
	whole := time.Duration(frames/rate) * time.Second
	rest := time.Duration(frames%rate) * time.Second / time.Duration(rate)
	return whole + rest
}

// sampleIndex returns floor(d * rate) as a frame index.
func sampleIndex(d time.Duration, rate int) int {
	whole := int(d/time.Second) * rate
	rest := int((d % time.Second) * time.Duration(rate) / time.Second)
	return whole + rest
}
