package audio

import "errors"

// ErrUnsupportedFormat indicates the input container or codec cannot be decoded.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ErrCorruptAudio indicates the input was recognized but could not be decoded,
// or decoded to zero duration.
var ErrCorruptAudio = errors.New("corrupt audio")

// ErrInvalidChunkDuration indicates the maximum chunk duration is not positive.
var ErrInvalidChunkDuration = errors.New("max chunk duration must be positive")

// ErrInvalidRange indicates a chunk range outside the stream or with End <= Start.
var ErrInvalidRange = errors.New("invalid chunk range")

// ErrPayloadTooLarge indicates a rendered chunk does not fit a WAV container (4 GiB).
var ErrPayloadTooLarge = errors.New("chunk exceeds WAV size limit")
