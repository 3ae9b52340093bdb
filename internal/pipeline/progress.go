package pipeline

import (
	"fmt"
	"time"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// Phase is a pipeline state.
type Phase int

// Pipeline states, in the order a successful run visits them.
const (
	Idle Phase = iota
	Decoding
	Chunking
	Transcribing
	Merged
	Completed
	Failed
)

// String returns the lowercase phase name used in logs and metrics.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case Chunking:
		return "chunking"
	case Transcribing:
		return "transcribing"
	case Merged:
		return "merged"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// Percent milestones.
const (
	percentDecoding       = 5
	percentChunking       = 10
	percentTranscribeLow  = 20
	percentTranscribeSpan = 60
	percentMerged         = 90
	percentCompleted      = 100
	percentFailed         = 0
)

// chunkPercent is the progress reported once i of n chunks are done.
func chunkPercent(i, n int) int {
	return percentTranscribeLow + i*percentTranscribeSpan/n
}

// Progress is one progress event.
type Progress struct {
	Phase   Phase
	Percent int // 0-100.
	Message string
	Chunk   int // Zero-based chunk index while transcribing.
	Total   int // Number of planned chunks, once known.
}

// ProgressFunc receives progress events. It runs on the driver goroutine.
type ProgressFunc func(Progress)

// ChunkFunc receives the merged transcript after each chunk.
// The slice is a copy owned by the callee.
type ChunkFunc func(chunk int, snapshot []transcript.Segment)

// Recorder observes a run for metrics.
type Recorder interface {
	RunStarted()
	ChunkDone(rng audio.ChunkRange, elapsed time.Duration, segments int)
	ChunkFailed(rng audio.ChunkRange)
	RunFinished(phase Phase, err error, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted() {}
func (nopRecorder) ChunkDone(audio.ChunkRange, time.Duration, int) {}
func (nopRecorder) ChunkFailed(audio.ChunkRange) {}
func (nopRecorder) RunFinished(Phase, error, time.Duration) {}
