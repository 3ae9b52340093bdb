package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/alnah/chunkscribe/internal/ffmpeg"
)

// Compile-time interface implementation checks.
var (
	_ Decoder = (*FFmpegDecoder)(nil)
	_ Decoder = (*SniffingDecoder)(nil)
)

// Decoder turns an encoded recording into a Stream.
// Implementations neither resample nor downmix.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*Stream, error)
}

// ---------------------------------------------------------------------------
// FFmpegDecoder - host codec runtime
// ---------------------------------------------------------------------------

// FFmpegDecoder decodes any container FFmpeg understands to 32-bit float PCM.
type FFmpegDecoder struct {
	ffmpegPath string
	runner     pipeRunner
}

// FFmpegDecoderOption configures an FFmpegDecoder.
type FFmpegDecoderOption func(*FFmpegDecoder)

// WithPipeRunner sets the process runner (for testing).
func WithPipeRunner(r pipeRunner) FFmpegDecoderOption {
	return func(d *FFmpegDecoder) { d.runner = r }
}

// NewFFmpegDecoder creates a decoder that shells out to ffmpegPath.
func NewFFmpegDecoder(ffmpegPath string, opts ...FFmpegDecoderOption) (*FFmpegDecoder, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}
	d := &FFmpegDecoder{
		ffmpegPath: ffmpegPath,
		runner:     ffmpeg.DefaultExecutor(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// decodeArgs converts stdin to interleaved little-endian float32 on stdout.
// No -ar or -ac: the source rate and layout are kept.
func decodeArgs() []string {
	return []string{
		"-hide_banner",
		"-i", "pipe:0",
		"-vn",
		"-f", "f32le",
		"-c:a", "pcm_f32le",
		"pipe:1",
	}
}

// Decode runs FFmpeg over data and de-interleaves the result.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*Stream, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptAudio)
	}

	stdout, stderr, err := d.runner.Pipe(ctx, d.ffmpegPath, decodeArgs(), data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyDecodeError(stderr, err)
	}

	rate, channels, err := parseStreamInfo(stderr)
	if err != nil {
		return nil, err
	}

	return deinterleaveFloat32(stdout, rate, channels)
}

// classifyDecodeError maps FFmpeg diagnostics to decoder sentinels.
func classifyDecodeError(stderr string, err error) error {
	detail := lastLine(stderr)
	switch {
	case strings.Contains(stderr, "does not contain any stream"),
		strings.Contains(stderr, "matches no streams"),
		strings.Contains(stderr, "Unknown input format"):
		return fmt.Errorf("%w: no decodable audio stream (%s)", ErrUnsupportedFormat, detail)
	case strings.Contains(stderr, "Invalid data found"):
		return fmt.Errorf("%w: %s", ErrCorruptAudio, detail)
	default:
		return fmt.Errorf("%w: %s: %w", ErrCorruptAudio, detail, err)
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// audioStreamRegex matches "Stream #0:0: Audio: pcm_f32le, 44100 Hz, stereo, flt, ...".
var audioStreamRegex = regexp.MustCompile(`Audio: [^,]+, (\d+) Hz, ([^,]+)`)

// channelsRegex matches explicit counts such as "3 channels".
var channelsRegex = regexp.MustCompile(`^(\d+) channels`)

// layoutChannels maps FFmpeg channel layout names to channel counts.
var layoutChannels = map[string]int{
	"mono":   1,
	"stereo": 2,
	"2.1":    3,
	"3.0":    3,
	"quad":   4,
	"4.0":    4,
	"4.1":    5,
	"5.0":    5,
	"5.1":    6,
	"6.0":    6,
	"6.1":    7,
	"7.0":    7,
	"7.1":    8,
}

// parseStreamInfo reads the sample rate and channel count of the output
// stream, which FFmpeg reports after the input stream.
func parseStreamInfo(stderr string) (rate, channels int, err error) {
	matches := audioStreamRegex.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("%w: no audio stream reported", ErrUnsupportedFormat)
	}
	m := matches[len(matches)-1]

	rate, err = strconv.Atoi(m[1])
	if err != nil || rate <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid sample rate %q", ErrCorruptAudio, m[1])
	}

	channels, err = parseChannelLayout(strings.TrimSpace(m[2]))
	if err != nil {
		return 0, 0, err
	}
	return rate, channels, nil
}

func parseChannelLayout(layout string) (int, error) {
	if m := channelsRegex.FindStringSubmatch(layout); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, nil
		}
	}
	// "5.1(side)" and similar variants share the base layout's count.
	base, _, _ := strings.Cut(layout, "(")
	if n, ok := layoutChannels[base]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("%w: unknown channel layout %q", ErrUnsupportedFormat, layout)
}

// deinterleaveFloat32 splits interleaved f32le frames into planar channels.
// A trailing partial frame is dropped.
func deinterleaveFloat32(raw []byte, rate, channels int) (*Stream, error) {
	frameSize := 4 * channels
	frames := len(raw) / frameSize
	if frames == 0 {
		return nil, fmt.Errorf("%w: decoded zero frames", ErrCorruptAudio)
	}

	planar := make([][]float32, channels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}
	for i := range frames {
		frame := raw[i*frameSize:]
		for c := range channels {
			planar[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(frame[c*4:]))
		}
	}
	return NewStream(rate, planar)
}

// ---------------------------------------------------------------------------
// SniffingDecoder - content-based dispatch
// ---------------------------------------------------------------------------

// SniffingDecoder detects the input type from its content and dispatches to
// the native WAV decoder or a fallback (usually FFmpegDecoder).
type SniffingDecoder struct {
	wav      Decoder
	fallback Decoder
}

// NewSniffingDecoder creates a SniffingDecoder. A nil fallback limits
// decoding to WAV.
func NewSniffingDecoder(fallback Decoder) *SniffingDecoder {
	return &SniffingDecoder{
		wav:      WAVDecoder{},
		fallback: fallback,
	}
}

// Detect returns the media type of data, e.g. "audio/mpeg".
func (d *SniffingDecoder) Detect(data []byte) string {
	return mimetype.Detect(data).String()
}

// Decode dispatches on the detected media type.
func (d *SniffingDecoder) Decode(ctx context.Context, data []byte) (*Stream, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptAudio)
	}

	mtype := mimetype.Detect(data)
	if !isMediaType(mtype) {
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedFormat, mtype.String())
	}

	if mtype.Is("audio/wav") {
		s, err := d.wav.Decode(ctx, data)
		if err == nil || d.fallback == nil ||
			!(errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrCorruptAudio)) {
			return s, err
		}
		// Compressed payloads (ADPCM, mu-law, ...) and headers the native
		// parser rejects go through the fallback, which is more lenient.
	}

	if d.fallback == nil {
		return nil, fmt.Errorf("%w: %s requires ffmpeg", ErrUnsupportedFormat, mtype.String())
	}
	return d.fallback.Decode(ctx, data)
}

// isMediaType reports whether m or one of its parents is audio or video.
func isMediaType(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || s == "application/ogg" {
			return true
		}
	}
	return false
}
