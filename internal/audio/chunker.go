package audio

import (
	"fmt"
	"time"

	"github.com/alnah/chunkscribe/internal/format"
)

// ChunkRange is a time window of the source recording.
// Ranges produced by Plan are contiguous, non-overlapping, and cover [0, total].
type ChunkRange struct {
	Index int           // Zero-based index for ordering.
	Start time.Duration // Inclusive start in the source audio.
	End   time.Duration // Exclusive end in the source audio.
}

// Duration returns the length of this range.
func (r ChunkRange) Duration() time.Duration {
	return r.End - r.Start
}

// String returns a human-readable representation for logging.
func (r ChunkRange) String() string {
	return fmt.Sprintf("chunk %d: %s-%s",
		r.Index,
		format.Duration(r.Start),
		format.Duration(r.End))
}

// Plan partitions [0, total] into ranges no longer than maxChunk.
// A recording that fits in one chunk yields exactly one range.
// Otherwise all ranges have length maxChunk except the last, which holds
// the remainder (0 < last <= maxChunk).
func Plan(total, maxChunk time.Duration) ([]ChunkRange, error) {
	if maxChunk <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidChunkDuration, maxChunk)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: zero duration", ErrCorruptAudio)
	}

	if total <= maxChunk {
		return []ChunkRange{{Index: 0, Start: 0, End: total}}, nil
	}

	n := int((total + maxChunk - 1) / maxChunk)
	ranges := make([]ChunkRange, n)
	for i := range n {
		start := time.Duration(i) * maxChunk
		end := min(start+maxChunk, total)
		ranges[i] = ChunkRange{Index: i, Start: start, End: end}
	}
	return ranges, nil
}
