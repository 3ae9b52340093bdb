package pipeline

import "errors"

var (
	// ErrTransportFailure wraps any render, transport or oracle error for a chunk.
	ErrTransportFailure = errors.New("transport failure")

	// ErrStopped indicates a graceful stop requested between chunks.
	ErrStopped = errors.New("stopped")
)
