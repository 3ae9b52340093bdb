package audio

import "time"

// Export internal functions for testing.
// This file is only compiled during tests (suffix _test.go).

// Quantize exports quantize for testing.
var Quantize = quantize

// SampleIndex exports sampleIndex for testing.
func SampleIndex(d time.Duration, rate int) int {
	return sampleIndex(d, rate)
}

// ParseStreamInfo exports parseStreamInfo for testing.
var ParseStreamInfo = parseStreamInfo

// ParseChannelLayout exports parseChannelLayout for testing.
var ParseChannelLayout = parseChannelLayout

// DecodeArgs exports decodeArgs for testing.
var DecodeArgs = decodeArgs

// Resample exports resample for testing.
var Resample = resample

// --- Decoder dependency injection exports ---

// PipeRunner exports pipeRunner interface for testing.
type PipeRunner = pipeRunner

// WAVHeaderSize exports wavHeaderSize for testing.
const WAVHeaderSize = wavHeaderSize
