package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/ffmpeg"
	"github.com/alnah/chunkscribe/internal/interrupt"
	"github.com/alnah/chunkscribe/internal/oracle"
)

// Env holds injectable dependencies for CLI commands.
// This is the central injection point for testing CLI commands in isolation.
//
// All fields have sensible defaults via DefaultEnv(). Tests can override
// specific fields using the With* options or by creating a custom Env.
//
// Env must not be nil when passed to command functions. Use DefaultEnv()
// or NewEnv() to create a valid instance.
type Env struct {
	// I/O and environment
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Now    func() time.Time

	// Factories for domain objects
	FFmpegResolver   FFmpegResolver
	ConfigLoader     ConfigLoader
	DecoderFactory   DecoderFactory
	OracleFactory    OracleFactory
	InterruptFactory InterruptFactory
}

// FFmpegResolver resolves the path to the FFmpeg binary.
type FFmpegResolver interface {
	Resolve(ctx context.Context) (string, error)
	CheckVersion(ctx context.Context, ffmpegPath string)
}

// ConfigLoader loads and provides access to configuration.
type ConfigLoader interface {
	Load() (config.Config, error)
}

// DecoderFactory creates audio decoders. An empty ffmpegPath limits
// decoding to WAV input.
type DecoderFactory interface {
	NewDecoder(ffmpegPath string) (audio.Decoder, error)
}

// OracleFactory creates speech-to-text oracles.
type OracleFactory interface {
	NewOracle(provider, apiKey string, opts ...oracle.Option) (oracle.Oracle, error)
}

// InterruptFactory installs the two-step Ctrl+C handler for a run.
type InterruptFactory interface {
	NewHandler(ctx context.Context) (*interrupt.Handler, context.Context)
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithStdout sets the stdout writer.
func WithStdout(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stdout = w
	}
}

// WithStderr sets the stderr writer.
func WithStderr(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stderr = w
	}
}

// WithGetenv sets the environment variable getter.
func WithGetenv(fn func(string) string) EnvOption {
	return func(e *Env) {
		e.Getenv = fn
	}
}

// WithNow sets the time provider.
func WithNow(fn func() time.Time) EnvOption {
	return func(e *Env) {
		e.Now = fn
	}
}

// WithFFmpegResolver sets the FFmpeg resolver.
func WithFFmpegResolver(r FFmpegResolver) EnvOption {
	return func(e *Env) {
		e.FFmpegResolver = r
	}
}

// WithConfigLoader sets the config loader.
func WithConfigLoader(l ConfigLoader) EnvOption {
	return func(e *Env) {
		e.ConfigLoader = l
	}
}

// WithDecoderFactory sets the decoder factory.
func WithDecoderFactory(f DecoderFactory) EnvOption {
	return func(e *Env) {
		e.DecoderFactory = f
	}
}

// WithOracleFactory sets the oracle factory.
func WithOracleFactory(f OracleFactory) EnvOption {
	return func(e *Env) {
		e.OracleFactory = f
	}
}

// WithInterruptFactory sets the interrupt handler factory.
func WithInterruptFactory(f InterruptFactory) EnvOption {
	return func(e *Env) {
		e.InterruptFactory = f
	}
}

// DefaultEnv returns an Env with production defaults.
func DefaultEnv() *Env {
	return &Env{
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
		Getenv:           os.Getenv,
		Now:              time.Now,
		FFmpegResolver:   &defaultFFmpegResolver{stderr: os.Stderr},
		ConfigLoader:     &defaultConfigLoader{},
		DecoderFactory:   &defaultDecoderFactory{},
		OracleFactory:    &defaultOracleFactory{},
		InterruptFactory: &defaultInterruptFactory{},
	}
}

// NewEnv creates an Env with the given options applied to defaults.
func NewEnv(opts ...EnvOption) *Env {
	env := DefaultEnv()
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// ---------------------------------------------------------------------------
// Default implementations - delegate to real packages
// ---------------------------------------------------------------------------

// defaultFFmpegResolver implements FFmpegResolver using the ffmpeg package.
type defaultFFmpegResolver struct {
	stderr io.Writer
}

func (defaultFFmpegResolver) Resolve(ctx context.Context) (string, error) {
	return ffmpeg.NewResolver().Resolve(ctx)
}

func (r defaultFFmpegResolver) CheckVersion(ctx context.Context, ffmpegPath string) {
	ffmpeg.NewVersionChecker(ffmpeg.WithVersionStderr(r.stderr)).Check(ctx, ffmpegPath)
}

// defaultConfigLoader implements ConfigLoader using the config package.
type defaultConfigLoader struct{}

func (defaultConfigLoader) Load() (config.Config, error) {
	return config.Load()
}

// defaultDecoderFactory sniffs the input and decodes WAV natively,
// everything else through ffmpeg.
type defaultDecoderFactory struct{}

func (defaultDecoderFactory) NewDecoder(ffmpegPath string) (audio.Decoder, error) {
	if ffmpegPath == "" {
		return audio.NewSniffingDecoder(nil), nil
	}
	fallback, err := audio.NewFFmpegDecoder(ffmpegPath)
	if err != nil {
		return nil, err
	}
	return audio.NewSniffingDecoder(fallback), nil
}

// defaultOracleFactory implements OracleFactory using the oracle package.
type defaultOracleFactory struct{}

func (defaultOracleFactory) NewOracle(provider, apiKey string, opts ...oracle.Option) (oracle.Oracle, error) {
	return oracle.New(provider, apiKey, opts...)
}

// defaultInterruptFactory listens for SIGINT and SIGTERM.
type defaultInterruptFactory struct{}

func (defaultInterruptFactory) NewHandler(ctx context.Context) (*interrupt.Handler, context.Context) {
	return interrupt.NewHandler(ctx)
}

// Compile-time interface verification.
var (
	_ FFmpegResolver   = (*defaultFFmpegResolver)(nil)
	_ ConfigLoader     = (*defaultConfigLoader)(nil)
	_ DecoderFactory   = (*defaultDecoderFactory)(nil)
	_ OracleFactory    = (*defaultOracleFactory)(nil)
	_ InterruptFactory = (*defaultInterruptFactory)(nil)
)
