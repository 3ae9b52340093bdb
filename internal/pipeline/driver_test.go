package pipeline_test

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/oracle"
	"github.com/alnah/chunkscribe/internal/pipeline"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// Notes:
// - Black-box testing via package pipeline_test with a fake decoder and a
//   scripted oracle; no ffmpeg or network.
// - Streams use a 1 Hz sample rate so multi-chunk recordings stay tiny:
//   1300 frames is 1300 s, which plans as 600 s + 600 s + 100 s.

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type fakeDecoder struct {
	mu     sync.Mutex
	stream *audio.Stream
	err    error
	mime   string
	calls  int
}

func (f *fakeDecoder) Decode(_ context.Context, _ []byte) (*audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stream, f.err
}

func (f *fakeDecoder) Detect(_ []byte) string { return f.mime }

func (f *fakeDecoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedOracle answers chunk i with replies[i] or errs[i].
type scriptedOracle struct {
	mu       sync.Mutex
	replies  map[int][]oracle.Segment
	errs     map[int]error
	requests []oracle.Request
	inFlight int
	maxSeen  int
	hook     func(req oracle.Request)
}

func (o *scriptedOracle) Transcribe(ctx context.Context, req oracle.Request) ([]oracle.Segment, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.inFlight++
	o.maxSeen = max(o.maxSeen, o.inFlight)
	hook := o.hook
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.errs[req.Chunk]; err != nil {
		return nil, err
	}
	return o.replies[req.Chunk], nil
}

func (o *scriptedOracle) Requests() []oracle.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]oracle.Request(nil), o.requests...)
}

type progressLog struct {
	mu     sync.Mutex
	events []pipeline.Progress
}

func (p *progressLog) record(ev pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *progressLog) percents() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Percent
	}
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	done     []audio.ChunkRange
	failed   []audio.ChunkRange
	finished []pipeline.Phase
}

func (r *fakeRecorder) RunStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) ChunkDone(rng audio.ChunkRange, _ time.Duration, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, rng)
}

func (r *fakeRecorder) ChunkFailed(rng audio.ChunkRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, rng)
}

func (r *fakeRecorder) RunFinished(p pipeline.Phase, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, p)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// secondsStream returns a mono 1 Hz stream lasting secs seconds.
func secondsStream(t *testing.T, secs int) *audio.Stream {
	t.Helper()
	samples := make([]float32, secs)
	for i := range samples {
		samples[i] = float32(i%7) / 10
	}
	s, err := audio.NewStream(1, [][]float32{samples})
	if err != nil {
		t.Fatalf("NewStream() error: %v", err)
	}
	return s
}

func seg(ts, speaker, text string) oracle.Segment {
	return oracle.Segment{Timestamp: ts, Speaker: speaker, Text: text}
}

func newDriver(t *testing.T, dec audio.Decoder, orc oracle.Oracle, opts ...pipeline.Option) *pipeline.Driver {
	t.Helper()
	d, err := pipeline.New(dec, orc, 600*time.Second, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return d
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDriver_Run_ShiftsAndOrdersSegments(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{stream: secondsStream(t, 1300)}
	orc := &scriptedOracle{replies: map[int][]oracle.Segment{
		0: {seg("[00:05]", "Speaker A", "one"), seg("[00:03]", "Speaker B", "two")},
		1: {seg("[02:15]", "Speaker A", "three")},
		2: {seg("01:30", "", "four")},
	}}
	var snapshots []int
	d := newDriver(t, dec, orc, pipeline.WithChunkDone(func(chunk int, snap []transcript.Segment) {
		snapshots = append(snapshots, len(snap))
	}))

	res, err := d.Run(t.Context(), []byte("input"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []transcript.Segment{
		{Timestamp: "[00:05]", Offset: 5 * time.Second, Speaker: "Speaker A", Text: "one", Chunk: 0},
		{Timestamp: "[00:03]", Offset: 3 * time.Second, Speaker: "Speaker B", Text: "two", Chunk: 0},
		{Timestamp: "[12:15]", Offset: 735 * time.Second, Speaker: "Speaker A", Text: "three", Chunk: 1},
		{Timestamp: "[21:30]", Offset: 1290 * time.Second, Text: "four", Chunk: 2},
	}
	if len(res.Segments) != len(want) {
		t.Fatalf("Run() segments = %+v", res.Segments)
	}
	for i := range want {
		if res.Segments[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, res.Segments[i], want[i])
		}
	}

	if res.Phase != pipeline.Completed || res.Chunks != 3 || res.Completed != 3 {
		t.Errorf("Result = phase %v chunks %d completed %d", res.Phase, res.Chunks, res.Completed)
	}
	if res.Duration != 1300*time.Second {
		t.Errorf("Duration = %v, want 1300s", res.Duration)
	}
	if !slices.Equal(snapshots, []int{2, 3, 4}) {
		t.Errorf("snapshot sizes = %v, want [2 3 4]", snapshots)
	}

	reqs := orc.Requests()
	if len(reqs) != 3 {
		t.Fatalf("oracle calls = %d, want 3", len(reqs))
	}
	for i, req := range reqs {
		if req.Chunk != i || req.Total != 3 {
			t.Errorf("request %d: chunk %d total %d", i, req.Chunk, req.Total)
		}
		if req.Offset != time.Duration(i)*600*time.Second {
			t.Errorf("request %d: offset %v", i, req.Offset)
		}
		if req.Audio.MIMEType != audio.MIMETypeWAV {
			t.Errorf("request %d: MIME %q, want WAV", i, req.Audio.MIMEType)
		}
	}

	// Last chunk is 100 s at 1 Hz mono int16: 44 + 200 bytes.
	raw, err := base64.StdEncoding.DecodeString(reqs[2].Audio.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 44+200 {
		t.Errorf("last chunk is %d bytes, want 244", len(raw))
	}
}

func TestDriver_Run_SequentialCalls(t *testing.T) {
	t.Parallel()

	orc := &scriptedOracle{}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 3000)}, orc)

	if _, err := d.Run(t.Context(), []byte("x")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	orc.mu.Lock()
	defer orc.mu.Unlock()
	if orc.maxSeen != 1 {
		t.Errorf("max concurrent oracle calls = %d, want 1", orc.maxSeen)
	}
	if len(orc.requests) != 5 {
		t.Errorf("oracle calls = %d, want 5", len(orc.requests))
	}
}

func TestDriver_Run_ProgressSequence(t *testing.T) {
	t.Parallel()

	var log progressLog
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 1300)}, &scriptedOracle{},
		pipeline.WithProgress(log.record))

	if _, err := d.Run(t.Context(), []byte("x")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []int{5, 10, 20, 40, 40, 60, 60, 80, 90, 100}
	if got := log.percents(); !slices.Equal(got, want) {
		t.Errorf("percents = %v, want %v", got, want)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.events[2].Message != "Transcribing chunk 1/3" {
		t.Errorf("message = %q", log.events[2].Message)
	}
	if log.events[len(log.events)-1].Phase != pipeline.Completed {
		t.Errorf("last phase = %v, want completed", log.events[len(log.events)-1].Phase)
	}
}

func TestDriver_Run_LastChunkFailureKeepsEarlierChunks(t *testing.T) {
	t.Parallel()

	orc := &scriptedOracle{
		replies: map[int][]oracle.Segment{
			0: {seg("[00:01]", "A", "first"), seg("[09:58]", "B", "first end")},
			1: {seg("[00:02]", "A", "second")},
			2: {seg("[00:03]", "A", "never merged")},
		},
		errs: map[int]error{2: apierr.ErrTimeout},
	}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 1300)}, orc)

	res, err := d.Run(t.Context(), []byte("x"))
	if !errors.Is(err, pipeline.ErrTransportFailure) || !strings.Contains(err.Error(), "chunk 3/3") {
		t.Fatalf("Run() error = %v, want ErrTransportFailure naming chunk 3/3", err)
	}
	if res.Phase != pipeline.Failed || res.Completed != 2 || res.Chunks != 3 {
		t.Errorf("Result = phase %v completed %d/%d, want failed 2/3", res.Phase, res.Completed, res.Chunks)
	}

	want := []struct {
		ts    string
		text  string
		chunk int
	}{
		{"[00:01]", "first", 0},
		{"[09:58]", "first end", 0},
		{"[10:02]", "second", 1},
	}
	if len(res.Segments) != len(want) {
		t.Fatalf("Segments = %+v, want %d from chunks 0 and 1", res.Segments, len(want))
	}
	for i, w := range want {
		got := res.Segments[i]
		if got.Timestamp != w.ts || got.Text != w.text || got.Chunk != w.chunk {
			t.Errorf("segment %d = %+v, want %s %q from chunk %d", i, got, w.ts, w.text, w.chunk)
		}
	}
	for _, s := range res.Segments {
		if s.Chunk == 2 {
			t.Errorf("failed chunk contributed %+v", s)
		}
	}
}

func TestDriver_Run_PartialFailureKeepsMergedSegments(t *testing.T) {
	t.Parallel()

	var log progressLog
	rec := &fakeRecorder{}
	orc := &scriptedOracle{
		replies: map[int][]oracle.Segment{0: {seg("[00:01]", "A", "kept")}},
		errs:    map[int]error{1: apierr.ErrServerError},
	}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 1300)}, orc,
		pipeline.WithProgress(log.record), pipeline.WithRecorder(rec))

	res, err := d.Run(t.Context(), []byte("x"))
	if !errors.Is(err, pipeline.ErrTransportFailure) {
		t.Fatalf("Run() error = %v, want ErrTransportFailure", err)
	}
	if !errors.Is(err, apierr.ErrServerError) {
		t.Errorf("Run() error should keep the oracle cause: %v", err)
	}
	if !strings.Contains(err.Error(), "chunk 2/3") {
		t.Errorf("error %q should name the chunk", err)
	}

	if res.Phase != pipeline.Failed || res.Completed != 1 {
		t.Errorf("Result = phase %v completed %d", res.Phase, res.Completed)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "kept" {
		t.Errorf("Segments = %+v, want the first chunk's segment", res.Segments)
	}
	if got := len(orc.Requests()); got != 2 {
		t.Errorf("oracle calls = %d, want 2 (no retry in the driver)", got)
	}

	want := []int{5, 10, 20, 40, 40, 0}
	if got := log.percents(); !slices.Equal(got, want) {
		t.Errorf("percents = %v, want %v", got, want)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started != 1 || len(rec.done) != 1 || len(rec.failed) != 1 {
		t.Errorf("recorder = started %d done %d failed %d", rec.started, len(rec.done), len(rec.failed))
	}
	if len(rec.finished) != 1 || rec.finished[0] != pipeline.Failed {
		t.Errorf("finished = %v, want [failed]", rec.finished)
	}
}

func TestDriver_Run_MalformedTimestamp(t *testing.T) {
	t.Parallel()

	orc := &scriptedOracle{replies: map[int][]oracle.Segment{0: {seg("later", "A", "x")}}}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 10)}, orc)

	_, err := d.Run(t.Context(), []byte("x"))
	if !errors.Is(err, pipeline.ErrTransportFailure) || !errors.Is(err, apierr.ErrMalformedResponse) {
		t.Fatalf("Run() error = %v, want transport failure wrapping malformed response", err)
	}
}

func TestDriver_Run_DecodeErrors(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{audio.ErrUnsupportedFormat, audio.ErrCorruptAudio} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			t.Parallel()

			orc := &scriptedOracle{}
			d := newDriver(t, &fakeDecoder{err: sentinel}, orc)

			res, err := d.Run(t.Context(), []byte("x"))
			if !errors.Is(err, sentinel) {
				t.Fatalf("Run() error = %v, want %v", err, sentinel)
			}
			if errors.Is(err, pipeline.ErrTransportFailure) {
				t.Error("decode errors are not transport failures")
			}
			if res.Chunks != 0 || len(orc.Requests()) != 0 {
				t.Error("no chunk should be planned or sent")
			}
		})
	}
}

func TestDriver_InvalidConfigurationFailsBeforeDecode(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{stream: secondsStream(t, 10)}

	for _, v := range []time.Duration{0, -time.Second} {
		if _, err := pipeline.New(dec, &scriptedOracle{}, v); !errors.Is(err, audio.ErrInvalidChunkDuration) {
			t.Errorf("New(max=%v) error = %v, want ErrInvalidChunkDuration", v, err)
		}
	}

	d := newDriver(t, dec, &scriptedOracle{})
	pipeline.SetMaxChunk(d, 0)
	_, err := d.Run(t.Context(), []byte("x"))
	if !errors.Is(err, audio.ErrInvalidChunkDuration) {
		t.Fatalf("Run() error = %v, want ErrInvalidChunkDuration", err)
	}
	if dec.callCount() != 0 {
		t.Errorf("decoder called %d times, want 0", dec.callCount())
	}
}

func TestDriver_Run_GracefulStop(t *testing.T) {
	t.Parallel()

	stop := make(chan struct{})
	orc := &scriptedOracle{replies: map[int][]oracle.Segment{
		0: {seg("[00:00]", "A", "first")},
		1: {seg("[00:00]", "A", "second")},
	}}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 1300)}, orc,
		pipeline.WithStop(stop),
		pipeline.WithChunkDone(func(chunk int, _ []transcript.Segment) {
			if chunk == 0 {
				close(stop)
			}
		}))

	res, err := d.Run(t.Context(), []byte("x"))
	if !errors.Is(err, pipeline.ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if res.Completed != 1 || len(res.Segments) != 1 {
		t.Errorf("Result = completed %d segments %d, want 1 and 1", res.Completed, len(res.Segments))
	}
	if got := len(orc.Requests()); got != 1 {
		t.Errorf("oracle calls = %d, want 1", got)
	}
}

func TestDriver_Run_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	orc := &scriptedOracle{
		replies: map[int][]oracle.Segment{0: {seg("[00:00]", "A", "first")}},
		hook: func(req oracle.Request) {
			if req.Chunk == 1 {
				cancel()
			}
		},
	}
	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 1300)}, orc)

	res, err := d.Run(ctx, []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, pipeline.ErrTransportFailure) {
		t.Error("cancellation should not be reported as a transport failure")
	}
	if res.Completed != 1 || len(res.Segments) != 1 {
		t.Errorf("Result = completed %d segments %d", res.Completed, len(res.Segments))
	}
}

func TestDriver_Run_Passthrough(t *testing.T) {
	t.Parallel()

	input := []byte("ID3 original mp3 bytes")

	tests := []struct {
		name        string
		passthrough bool
		secs        int
		wantMIME    string
		wantRaw     bool
	}{
		{"single chunk sends original", true, 30, "audio/mpeg", true},
		{"disabled renders WAV", false, 30, audio.MIMETypeWAV, false},
		{"multi chunk always renders", true, 700, audio.MIMETypeWAV, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			orc := &scriptedOracle{}
			dec := &fakeDecoder{stream: secondsStream(t, tt.secs), mime: "audio/mpeg"}
			d := newDriver(t, dec, orc, pipeline.WithPassthrough(tt.passthrough))

			if _, err := d.Run(t.Context(), input); err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			req := orc.Requests()[0]
			if req.Audio.MIMEType != tt.wantMIME {
				t.Errorf("MIME = %q, want %q", req.Audio.MIMEType, tt.wantMIME)
			}
			raw, _ := base64.StdEncoding.DecodeString(req.Audio.Data)
			if (string(raw) == string(input)) != tt.wantRaw {
				t.Errorf("original bytes sent = %v, want %v", string(raw) == string(input), tt.wantRaw)
			}
		})
	}
}

func TestDriver_Run_EncoderOption(t *testing.T) {
	t.Parallel()

	stereo, err := audio.NewStream(1, [][]float32{make([]float32, 10), make([]float32, 10)})
	if err != nil {
		t.Fatal(err)
	}
	orc := &scriptedOracle{}
	d := newDriver(t, &fakeDecoder{stream: stereo}, orc, pipeline.WithEncoder(audio.NewEncoder(audio.WithDownmix())))

	if _, err := d.Run(t.Context(), []byte("x")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(orc.Requests()[0].Audio.Data)
	if len(raw) < 24 || raw[22] != 1 {
		t.Errorf("expected a mono WAV header, got %v", raw[:min(len(raw), 24)])
	}
}

func TestDriver_Run_LogsRunID(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	d := newDriver(t, &fakeDecoder{stream: secondsStream(t, 10)}, &scriptedOracle{}, pipeline.WithLogger(logger))
	pipeline.SetIDFunc(d, func() string { return "run-1" })

	res, err := d.Run(t.Context(), []byte("x"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", res.RunID)
	}

	entries := hook.AllEntries()
	if len(entries) == 0 {
		t.Fatal("expected log entries")
	}
	var sawChunk bool
	for _, e := range entries {
		if e.Data["run_id"] != "run-1" {
			t.Errorf("entry %q missing run_id", e.Message)
		}
		if e.Message == "chunk transcribed" {
			sawChunk = true
		}
	}
	if !sawChunk {
		t.Error("expected a chunk transcribed entry")
	}
}

func TestChunkPercent(t *testing.T) {
	t.Parallel()

	tests := []struct{ i, n, want int }{
		{0, 1, 20},
		{1, 1, 80},
		{1, 3, 40},
		{2, 3, 60},
		{1, 7, 28},
	}
	for _, tt := range tests {
		if got := pipeline.ChunkPercent(tt.i, tt.n); got != tt.want {
			t.Errorf("ChunkPercent(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestPhaseString(t *testing.T) {
	t.Parallel()

	if pipeline.Transcribing.String() != "transcribing" || pipeline.Failed.String() != "failed" {
		t.Error("unexpected phase names")
	}
	if pipeline.Phase(42).String() != "Phase(42)" {
		t.Errorf("unknown phase = %q", pipeline.Phase(42).String())
	}
}
