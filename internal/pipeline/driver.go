// Package pipeline drives one transcription run: decode the recording, plan
// chunks, then render, transport and transcribe each chunk in order while
// merging the results and reporting progress.
//
// A run is strictly sequential. At most one oracle call is in flight, and
// chunk i is merged before chunk i+1 is rendered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/oracle"
	"github.com/alnah/chunkscribe/internal/transcript"
	"github.com/alnah/chunkscribe/internal/transport"
)

// Result is the outcome of a run. It is returned even when the run fails,
// holding whatever was merged before the failure.
type Result struct {
	RunID     string
	Phase     Phase // Completed or Failed.
	Segments  []transcript.Segment
	Chunks    int           // Planned chunks; 0 if planning was not reached.
	Completed int           // Chunks merged.
	Duration  time.Duration // Recording duration; 0 if decoding failed.
}

// detector reports the media type of raw input.
type detector interface {
	Detect(data []byte) string
}

// Driver runs the pipeline. A Driver holds no per-run state and may be
// reused, but not concurrently by callers that share a stop channel.
type Driver struct {
	decoder  audio.Decoder
	oracle   oracle.Oracle
	maxChunk time.Duration

	encoder     chunkRenderer
	transport   transport.Encoder
	passthrough bool
	onProgress  ProgressFunc
	onChunk     ChunkFunc
	stop        <-chan struct{}
	logger      logrus.FieldLogger
	recorder    Recorder
	newID       func() string
}

// New creates a Driver. maxChunk must be positive.
func New(dec audio.Decoder, orc oracle.Oracle, maxChunk time.Duration, opts ...Option) (*Driver, error) {
	if maxChunk <= 0 {
		return nil, fmt.Errorf("%w: %s", audio.ErrInvalidChunkDuration, maxChunk)
	}
	if dec == nil {
		return nil, errors.New("pipeline: nil decoder")
	}
	if orc == nil {
		return nil, errors.New("pipeline: nil oracle")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	d := &Driver{
		decoder:    dec,
		oracle:     orc,
		maxChunk:   maxChunk,
		encoder:    audio.NewEncoder(),
		transport:  transport.Base64{},
		onProgress: func(Progress) {},
		onChunk:    func(int, []transcript.Segment) {},
		logger:     discard,
		recorder:   nopRecorder{},
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MaxChunk returns the configured maximum chunk duration.
func (d *Driver) MaxChunk() time.Duration { return d.maxChunk }

// Run transcribes data, a complete audio file in any supported format.
//
// Errors: audio.ErrInvalidChunkDuration before anything else,
// audio.ErrUnsupportedFormat or audio.ErrCorruptAudio from decoding,
// ErrTransportFailure for any chunk-level failure, ErrStopped after a
// graceful stop, and the context's error on cancellation.
func (d *Driver) Run(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: d.newID(), Phase: Idle}
	log := d.logger.WithField("run_id", res.RunID)
	d.recorder.RunStarted()

	if d.maxChunk <= 0 {
		return d.fail(res, log, start, fmt.Errorf("%w: %s", audio.ErrInvalidChunkDuration, d.maxChunk))
	}

	d.emit(log, Progress{Phase: Decoding, Percent: percentDecoding, Message: "Decoding audio"})
	if err := d.interrupted(ctx); err != nil {
		return d.fail(res, log, start, err)
	}
	stream, err := d.decoder.Decode(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return d.fail(res, log, start, fmt.Errorf("decode: %w", err))
	}
	res.Duration = stream.Duration()
	log.WithFields(logrus.Fields{
		"duration":    res.Duration.String(),
		"sample_rate": stream.SampleRate(),
		"channels":    stream.Channels(),
	}).Debug("decoded")

	d.emit(log, Progress{Phase: Chunking, Percent: percentChunking, Message: "Planning chunks"})
	ranges, err := audio.Plan(res.Duration, d.maxChunk)
	if err != nil {
		return d.fail(res, log, start, err)
	}
	n := len(ranges)
	res.Chunks = n

	var agg transcript.Aggregator
	for i, rng := range ranges {
		if err := d.interrupted(ctx); err != nil {
			return d.fail(res, log, start, err)
		}

		d.emit(log, Progress{
			Phase:   Transcribing,
			Percent: chunkPercent(i, n),
			Message: fmt.Sprintf("Transcribing chunk %d/%d", i+1, n),
			Chunk:   i,
			Total:   n,
		})

		chunkStart := time.Now()
		segments, err := d.transcribeChunk(ctx, stream, data, rng, n)
		if err != nil {
			d.recorder.ChunkFailed(rng)
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("%w: chunk %d/%d: %w", ErrTransportFailure, i+1, n, err)
			}
			return d.fail(res, log, start, err)
		}
		if err := agg.Append(i, segments); err != nil {
			return d.fail(res, log, start, err)
		}
		res.Segments = agg.Snapshot()
		res.Completed = i + 1
		d.recorder.ChunkDone(rng, time.Since(chunkStart), len(segments))
		log.WithFields(logrus.Fields{
			"chunk":    i,
			"range":    rng.String(),
			"segments": len(segments),
			"elapsed":  time.Since(chunkStart).String(),
		}).Info("chunk transcribed")

		d.emit(log, Progress{
			Phase:   Transcribing,
			Percent: chunkPercent(i+1, n),
			Message: fmt.Sprintf("Transcribed chunk %d/%d", i+1, n),
			Chunk:   i,
			Total:   n,
		})
		d.onChunk(i, agg.Snapshot())
	}

	d.emit(log, Progress{
		Phase:   Merged,
		Percent: percentMerged,
		Message: fmt.Sprintf("Merged %d segments", len(res.Segments)),
		Total:   n,
	})
	res.Phase = Completed
	d.emit(log, Progress{Phase: Completed, Percent: percentCompleted, Message: "Done", Total: n})
	d.recorder.RunFinished(Completed, nil, time.Since(start))
	return res, nil
}

// transcribeChunk renders, transports and transcribes one range and shifts
// the oracle's chunk-local timestamps onto the recording's timeline.
func (d *Driver) transcribeChunk(ctx context.Context, stream *audio.Stream, data []byte, rng audio.ChunkRange, total int) ([]transcript.Segment, error) {
	var chunk audio.EncodedChunk
	if d.passthrough && total == 1 {
		chunk = audio.EncodedChunk{Data: data, Range: rng, MIMEType: d.detect(data)}
	} else {
		var err error
		chunk, err = d.encoder.Render(stream, rng)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
	}

	payload, err := d.transport.Encode(chunk)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	local, err := d.oracle.Transcribe(ctx, oracle.Request{
		Audio:  payload,
		Chunk:  rng.Index,
		Total:  total,
		Offset: rng.Start,
	})
	if err != nil {
		return nil, err
	}

	segments := make([]transcript.Segment, 0, len(local))
	for j, s := range local {
		ts, abs, err := transcript.Shift(s.Timestamp, rng.Start)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w: %w", j, apierr.ErrMalformedResponse, err)
		}
		segments = append(segments, transcript.Segment{
			Timestamp: ts,
			Offset:    abs,
			Speaker:   s.Speaker,
			Text:      s.Text,
			Chunk:     rng.Index,
		})
	}
	return segments, nil
}

func (d *Driver) detect(data []byte) string {
	if det, ok := d.decoder.(detector); ok {
		return det.Detect(data)
	}
	return mimetype.Detect(data).String()
}

// interrupted reports cancellation or a requested stop.
func (d *Driver) interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrStopped
	default:
		return nil
	}
}

func (d *Driver) fail(res *Result, log logrus.FieldLogger, start time.Time, err error) (*Result, error) {
	res.Phase = Failed
	d.emit(log, Progress{Phase: Failed, Percent: percentFailed, Message: err.Error(), Total: res.Chunks})
	d.recorder.RunFinished(Failed, err, time.Since(start))

	entry := log.WithError(err).WithField("completed", res.Completed)
	if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) {
		entry.Warn("run interrupted")
	} else {
		entry.Error("run failed")
	}
	return res, err
}

func (d *Driver) emit(log logrus.FieldLogger, p Progress) {
	log.WithFields(logrus.Fields{"phase": p.Phase.String(), "percent": p.Percent}).Debug(p.Message)
	d.onProgress(p)
}
