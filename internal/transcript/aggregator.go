// Package transcript holds the merged, ordered result of a transcription run
// and renders it in the supported output formats.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// Segment is one utterance, positioned on the original recording's timeline.
type Segment struct {
	Timestamp string        // Display form, "[MM:SS]".
	Offset    time.Duration // Same instant as Timestamp.
	Speaker   string        // Chunk-local label; may be empty.
	Text      string
	Chunk     int // Index of the source chunk.
}

// Aggregator accumulates segments chunk by chunk.
// Chunks must be appended in order starting at 0; within a chunk the
// oracle's order is kept. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	segments []Segment
	next     int
}

// Append adds the segments of chunk. A chunk may contribute no segments.
func (a *Aggregator) Append(chunk int, segments []Segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if chunk != a.next {
		return fmt.Errorf("%w: got chunk %d, want %d", ErrOutOfOrder, chunk, a.next)
	}
	a.segments = append(a.segments, segments...)
	a.next++
	return nil
}

// Snapshot returns a copy of all segments appended so far.
func (a *Aggregator) Snapshot() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Len returns the number of segments appended so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Chunks returns the number of chunks appended so far.
func (a *Aggregator) Chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
