package pipeline

import "time"

var ChunkPercent = chunkPercent

// SetMaxChunk bypasses New's validation to exercise Run's own check.
func SetMaxChunk(d *Driver, v time.Duration) { d.maxChunk = v }

// SetIDFunc makes run IDs deterministic.
func SetIDFunc(d *Driver, fn func() string) { d.newID = fn }
