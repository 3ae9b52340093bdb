package cli

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/interrupt"
	"github.com/alnah/chunkscribe/internal/oracle"
)

// ---------------------------------------------------------------------------
// Mock FFmpegResolver
// ---------------------------------------------------------------------------

type mockFFmpegResolver struct {
	ResolveFunc      func(ctx context.Context) (string, error)
	CheckVersionFunc func(ctx context.Context, ffmpegPath string)

	mu           sync.Mutex
	resolveCalls int
}

func (m *mockFFmpegResolver) Resolve(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.resolveCalls++
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx)
	}
	return "/usr/bin/ffmpeg", nil
}

func (m *mockFFmpegResolver) CheckVersion(ctx context.Context, ffmpegPath string) {
	if m.CheckVersionFunc != nil {
		m.CheckVersionFunc(ctx, ffmpegPath)
	}
}

func (m *mockFFmpegResolver) ResolveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveCalls
}

// ---------------------------------------------------------------------------
// Mock ConfigLoader
// ---------------------------------------------------------------------------

type mockConfigLoader struct {
	LoadFunc func() (config.Config, error)

	mu        sync.Mutex
	loadCalls int
}

func (m *mockConfigLoader) Load() (config.Config, error) {
	m.mu.Lock()
	m.loadCalls++
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return config.Config{}, nil
}

func (m *mockConfigLoader) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

// ---------------------------------------------------------------------------
// Mock DecoderFactory
// ---------------------------------------------------------------------------

// mockDecoderFactory returns the native WAV decoder unless NewDecoderFunc
// is set, so tests run without ffmpeg.
type mockDecoderFactory struct {
	NewDecoderFunc func(ffmpegPath string) (audio.Decoder, error)

	mu    sync.Mutex
	paths []string
}

func (m *mockDecoderFactory) NewDecoder(ffmpegPath string) (audio.Decoder, error) {
	m.mu.Lock()
	m.paths = append(m.paths, ffmpegPath)
	m.mu.Unlock()

	if m.NewDecoderFunc != nil {
		return m.NewDecoderFunc(ffmpegPath)
	}
	return audio.NewSniffingDecoder(nil), nil
}

func (m *mockDecoderFactory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

// ---------------------------------------------------------------------------
// Mock OracleFactory + Oracle
// ---------------------------------------------------------------------------

type oracleCall struct {
	Provider string
	APIKey   string
	Options  int
}

type mockOracleFactory struct {
	NewOracleFunc func(provider, apiKey string, opts ...oracle.Option) (oracle.Oracle, error)
	oracle        *mockOracle

	mu    sync.Mutex
	calls []oracleCall
}

func (m *mockOracleFactory) NewOracle(provider, apiKey string, opts ...oracle.Option) (oracle.Oracle, error) {
	m.mu.Lock()
	m.calls = append(m.calls, oracleCall{Provider: provider, APIKey: apiKey, Options: len(opts)})
	if m.oracle == nil {
		m.oracle = &mockOracle{}
	}
	orc := m.oracle
	m.mu.Unlock()

	if m.NewOracleFunc != nil {
		return m.NewOracleFunc(provider, apiKey, opts...)
	}
	return orc, nil
}

func (m *mockOracleFactory) Calls() []oracleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]oracleCall(nil), m.calls...)
}

// Oracle returns the oracle handed out by NewOracle.
func (m *mockOracleFactory) Oracle() *mockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oracle == nil {
		m.oracle = &mockOracle{}
	}
	return m.oracle
}

// mockOracle answers every chunk with one segment at [00:01] unless
// TranscribeFunc is set.
type mockOracle struct {
	TranscribeFunc func(ctx context.Context, req oracle.Request) ([]oracle.Segment, error)

	mu       sync.Mutex
	requests []oracle.Request
}

func (m *mockOracle) Transcribe(ctx context.Context, req oracle.Request) ([]oracle.Segment, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return []oracle.Segment{{Timestamp: "[00:01]", Text: "hello"}}, nil
}

func (m *mockOracle) Requests() []oracle.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]oracle.Request(nil), m.requests...)
}

// ---------------------------------------------------------------------------
// Mock InterruptFactory
// ---------------------------------------------------------------------------

// mockInterruptFactory builds real handlers fed by SigCh instead of the
// process's signals. A nil SigCh never interrupts.
type mockInterruptFactory struct {
	SigCh  chan os.Signal
	Stderr io.Writer

	mu      sync.Mutex
	handler *interrupt.Handler
}

func (m *mockInterruptFactory) NewHandler(ctx context.Context) (*interrupt.Handler, context.Context) {
	stderr := m.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	opts := interrupt.Options{Stderr: stderr}
	if m.SigCh != nil {
		opts.SigCh = m.SigCh
	}
	h, hctx := interrupt.NewHandlerWithOptions(ctx, opts)
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	return h, hctx
}

// Handler returns the last handler built.
func (m *mockInterruptFactory) Handler() *interrupt.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Compile-time interface verification.
var (
	_ FFmpegResolver   = (*mockFFmpegResolver)(nil)
	_ ConfigLoader     = (*mockConfigLoader)(nil)
	_ DecoderFactory   = (*mockDecoderFactory)(nil)
	_ OracleFactory    = (*mockOracleFactory)(nil)
	_ InterruptFactory = (*mockInterruptFactory)(nil)
	_ oracle.Oracle    = (*mockOracle)(nil)
)
