package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/oracle"
)

// ---------------------------------------------------------------------------
// syncBuffer - thread-safe bytes.Buffer for concurrent test output
// ---------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// Compile-time check that syncBuffer implements io.Writer.
var _ io.Writer = (*syncBuffer)(nil)

// ---------------------------------------------------------------------------
// testMocks - convenience struct for grouping all mocks
// ---------------------------------------------------------------------------

type testMocks struct {
	ffmpegResolver *mockFFmpegResolver
	configLoader   *mockConfigLoader
	decoder        *mockDecoderFactory
	oracle         *mockOracleFactory
	interrupt      *mockInterruptFactory
	stdout         *syncBuffer
	stderr         *syncBuffer
}

func newTestMocks() *testMocks {
	return &testMocks{
		ffmpegResolver: &mockFFmpegResolver{},
		configLoader:   &mockConfigLoader{},
		decoder:        &mockDecoderFactory{},
		oracle:         &mockOracleFactory{},
		interrupt:      &mockInterruptFactory{},
		stdout:         &syncBuffer{},
		stderr:         &syncBuffer{},
	}
}

// ---------------------------------------------------------------------------
// testEnv - creates a fully mocked Env for testing
// ---------------------------------------------------------------------------

// testEnvOptions configures a test environment.
type testEnvOptions struct {
	getenv func(string) string
	now    func() time.Time
	mocks  *testMocks
}

// testEnvOption configures testEnv.
type testEnvOption func(*testEnvOptions)

// withGetenv replaces the default API keys.
func withGetenv(fn func(string) string) testEnvOption {
	return func(o *testEnvOptions) { o.getenv = fn }
}

// withMocks replaces the default mocks.
func withMocks(m *testMocks) testEnvOption {
	return func(o *testEnvOptions) { o.mocks = m }
}

// testEnv creates a test Env with all dependencies mocked.
// Returns the Env and the mocks for assertions.
func testEnv(opts ...testEnvOption) (*Env, *testMocks) {
	options := &testEnvOptions{
		getenv: defaultTestEnv,
		now: func() time.Time {
			return time.Date(2026, 1, 26, 14, 30, 52, 0, time.UTC)
		},
		mocks: newTestMocks(),
	}

	for _, opt := range opts {
		opt(options)
	}

	env := &Env{
		Stdout:           options.mocks.stdout,
		Stderr:           options.mocks.stderr,
		Getenv:           options.getenv,
		Now:              options.now,
		FFmpegResolver:   options.mocks.ffmpegResolver,
		ConfigLoader:     options.mocks.configLoader,
		DecoderFactory:   options.mocks.decoder,
		OracleFactory:    options.mocks.oracle,
		InterruptFactory: options.mocks.interrupt,
	}

	return env, options.mocks
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// staticEnv returns a getenv function that returns values from the given map.
func staticEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

// defaultTestEnv returns API keys for both providers.
func defaultTestEnv(key string) string {
	switch key {
	case oracle.EnvGeminiAPIKey:
		return "test-gemini-key"
	case oracle.EnvOpenAIAPIKey:
		return "test-openai-key"
	default:
		return ""
	}
}

// writeWAV writes a mono 100 Hz WAV file lasting secs seconds into a
// temporary directory and returns its path.
func writeWAV(t *testing.T, name string, secs int) string {
	t.Helper()

	samples := make([]float32, secs*100)
	for i := range samples {
		samples[i] = 0.25
	}
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, 100, [][]float32{samples}); err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to create test audio file: %v", err)
	}
	return path
}

// createTranscribeCmd returns a bare command carrying ctx, as cobra
// provides to RunE.
func createTranscribeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	return cmd
}

// configWithOutputDir returns a ConfigLoader that returns a config with the given output directory.
func configWithOutputDir(outputDir string) *mockConfigLoader {
	return &mockConfigLoader{
		LoadFunc: func() (config.Config, error) {
			return config.Config{OutputDir: outputDir}, nil
		},
	}
}
