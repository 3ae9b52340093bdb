package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/transport"
)

// chunkRenderer renders one range of a stream as a self-contained file.
type chunkRenderer interface {
	Render(s *audio.Stream, rng audio.ChunkRange) (audio.EncodedChunk, error)
}

// Compile-time interface compliance check.
var _ chunkRenderer = (*audio.Encoder)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithPassthrough sends the original bytes when the plan has a single chunk.
func WithPassthrough(enabled bool) Option {
	return func(d *Driver) { d.passthrough = enabled }
}

// WithProgress registers a progress listener.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Driver) {
		if fn != nil {
			d.onProgress = fn
		}
	}
}

// WithChunkDone registers a listener called after each merged chunk.
func WithChunkDone(fn ChunkFunc) Option {
	return func(d *Driver) {
		if fn != nil {
			d.onChunk = fn
		}
	}
}

// WithStop sets a channel whose closing stops the run before the next chunk.
func WithStop(stop <-chan struct{}) Option {
	return func(d *Driver) { d.stop = stop }
}

// WithLogger sets the structured logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithEncoder replaces the canonical WAV renderer, e.g. with a downmixing one.
func WithEncoder(e *audio.Encoder) Option {
	return func(d *Driver) {
		if e != nil {
			d.encoder = e
		}
	}
}

// WithTransport replaces the base64 transport encoder.
func WithTransport(t transport.Encoder) Option {
	return func(d *Driver) {
		if t != nil {
			d.transport = t
		}
	}
}
