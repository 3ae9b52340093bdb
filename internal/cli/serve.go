package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/ffmpeg"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/metrics"
	"github.com/alnah/chunkscribe/internal/oracle"
	"github.com/alnah/chunkscribe/internal/server"
)

// defaultAddr is the listen address of the serve command.
const defaultAddr = ":8080"

// serveOptions holds the serve command's flags.
type serveOptions struct {
	addr            string
	maxConcurrent   int
	bodyLimitMB     int
	chunkSeconds    int
	chunkSecondsSet bool
	provider        string
	model           string
	language        string
	sampleRate      int
	mono            bool
	passthrough     bool
	logLevel        string
	logFormat       string
}

// ServeCmd creates the serve command.
// The env parameter provides injectable dependencies for testing.
func ServeCmd(env *Env) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription pipeline over HTTP",
		Long: `Serve the transcription pipeline over HTTP.

Endpoints:
  POST /v1/transcriptions  multipart upload (field "file"; optional
                           "chunk_seconds" and "language")
  GET  /healthz            liveness probe
  GET  /metrics            Prometheus metrics

Runs are processed one at a time by default so the provider's rate limit
holds across requests; raise --max-concurrent if your quota allows.`,
		Example: `  chunkscribe serve
  chunkscribe serve --addr 127.0.0.1:9000 --provider openai --log-format json
  curl -F file=@meeting.m4a http://localhost:8080/v1/transcriptions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.chunkSecondsSet = cmd.Flags().Changed("chunk-seconds")
			return runServe(cmd, env, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", defaultAddr, "Listen address")
	f.IntVar(&opts.maxConcurrent, "max-concurrent", server.DefaultMaxConcurrent, "Maximum runs in flight")
	f.IntVar(&opts.bodyLimitMB, "max-upload-mb", server.DefaultBodyLimit>>20, "Largest accepted upload in MB")
	f.IntVar(&opts.chunkSeconds, "chunk-seconds", 0, "Default maximum chunk length in seconds (default: config or 600)")
	f.StringVar(&opts.provider, "provider", "", "Speech-to-text provider: gemini, openai (default: config or gemini)")
	f.StringVar(&opts.model, "model", "", "Provider model override")
	f.StringVarP(&opts.language, "language", "l", "", "Default audio language when a request names none")
	f.IntVar(&opts.sampleRate, "sample-rate", defaultSampleRate, "Sample rate of rendered chunks in Hz (0 keeps the source rate)")
	f.BoolVar(&opts.mono, "mono", true, "Downmix rendered chunks to one channel")
	f.BoolVar(&opts.passthrough, "passthrough", false, "Send uploads that fit in one chunk as-is")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", LogFormatText, "Log format: text, json")

	return cmd
}

// runServe starts the HTTP server and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, env *Env, opts serveOptions) error {
	cfg, err := env.ConfigLoader.Load()
	if err != nil {
		fmt.Fprintf(env.Stderr, "Warning: failed to load config: %v\n", err)
	}

	settings, err := resolveSettings(transcribeOptions{
		format:          "text",
		chunkSeconds:    opts.chunkSeconds,
		chunkSecondsSet: opts.chunkSecondsSet,
		provider:        opts.provider,
		model:           opts.model,
		language:        opts.language,
		sampleRate:      opts.sampleRate,
	}, cfg)
	if err != nil {
		return err
	}
	if opts.maxConcurrent < 1 {
		return fmt.Errorf("%w: --max-concurrent %d", ErrInvalidFlag, opts.maxConcurrent)
	}
	if opts.bodyLimitMB < 1 {
		return fmt.Errorf("%w: --max-upload-mb %d", ErrInvalidFlag, opts.bodyLimitMB)
	}

	log, err := newLogger(env.Stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	keyVar := oracle.EnvKey(settings.provider)
	apiKey := env.Getenv(keyVar)
	if apiKey == "" {
		return fmt.Errorf("%w: %s (set it with: export %s=...)", oracle.ErrAPIKeyMissing, keyVar, keyVar)
	}

	ctx := cmd.Context()
	ffmpegPath, err := env.FFmpegResolver.Resolve(ctx)
	switch {
	case err == nil:
		env.FFmpegResolver.CheckVersion(ctx, ffmpegPath)
	case errors.Is(err, ffmpeg.ErrNotFound):
		log.Warn("ffmpeg not found, only WAV uploads will be accepted")
	default:
		return err
	}
	dec, err := env.DecoderFactory.NewDecoder(ffmpegPath)
	if err != nil {
		return err
	}

	newOracle := func(language string) (oracle.Oracle, error) {
		if language == "" {
			language = settings.language
		}
		return env.OracleFactory.NewOracle(settings.provider, apiKey,
			oracle.WithModel(settings.model),
			oracle.WithInstruction(oracle.Instruction{Language: language}),
		)
	}
	// Fail at startup rather than on the first request.
	if _, err := newOracle(""); err != nil {
		return err
	}

	encOpts := []audio.EncoderOption{audio.WithSampleRate(opts.sampleRate)}
	if opts.mono {
		encOpts = append(encOpts, audio.WithDownmix())
	}

	srv, err := server.New(dec, newOracle, time.Duration(settings.chunkSeconds)*time.Second,
		server.WithLogger(log),
		server.WithMetrics(metrics.New()),
		server.WithMaxConcurrent(opts.maxConcurrent),
		server.WithBodyLimit(opts.bodyLimitMB<<20),
		server.WithEncoder(audio.NewEncoder(encOpts...)),
		server.WithPassthrough(opts.passthrough),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("provider", settings.provider).
		WithField("language", lang.DisplayName(settings.language)).
		Info("starting server")
	if err := srv.Serve(ctx, opts.addr); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
