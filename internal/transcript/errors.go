package transcript

import "errors"

// ErrInvalidTimestamp indicates a timestamp that is not [MM:SS], MM:SS or HH:MM:SS.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ErrOutOfOrder indicates segments appended for a chunk other than the next expected one.
var ErrOutOfOrder = errors.New("chunk appended out of order")

// ErrUnknownFormat indicates an unsupported output format name.
var ErrUnknownFormat = errors.New("unknown output format")
