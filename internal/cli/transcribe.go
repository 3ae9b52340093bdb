package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/ffmpeg"
	"github.com/alnah/chunkscribe/internal/format"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/metrics"
	"github.com/alnah/chunkscribe/internal/oracle"
	"github.com/alnah/chunkscribe/internal/pipeline"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// defaultSampleRate is the rate chunks are rendered at unless overridden.
// Speech models gain nothing above 16 kHz and chunks stay small.
const defaultSampleRate = 16000

// transcribeOptions holds the transcribe command's flags.
type transcribeOptions struct {
	output          string
	format          string
	chunkSeconds    int
	chunkSecondsSet bool
	provider        string
	model           string
	language        string
	context         string
	diarize         bool
	sampleRate      int
	mono            bool
	passthrough     bool

	metricsTextfile string
	logLevel        string
	logFormat       string
}

// runSettings are the options after merging flags with config.
type runSettings struct {
	format       transcript.Format
	chunkSeconds int
	provider     string
	model        string
	language     string
}

// deriveOutputPath converts an audio file path to a transcript path.
// Example: "session.ogg" with markdown -> "session.md"
func deriveOutputPath(inputPath string, f transcript.Format) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + f.Extension()
}

// TranscribeCmd creates the transcribe command.
// The env parameter provides injectable dependencies for testing.
func TranscribeCmd(env *Env) *cobra.Command {
	var opts transcribeOptions

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Long: `Transcribe an audio file of any length.

The recording is decoded once, cut into fixed-length chunks (10 minutes by
default) and each chunk is sent to the speech-to-text provider in order.
Timestamps are shifted onto the recording's timeline and the chunks are
merged into one transcript.

Press Ctrl+C once to stop after the current chunk and keep the partial
transcript. Press it again within 2 seconds to abort immediately.

Providers: gemini (GEMINI_API_KEY), openai (OPENAI_API_KEY)
Formats:   text, markdown, json, yaml`,
		Example: `  chunkscribe transcribe meeting.m4a
  chunkscribe transcribe lecture.mp3 -f markdown -o notes.md -l en
  chunkscribe transcribe interview.wav --provider openai --diarize
  chunkscribe transcribe podcast.ogg --chunk-seconds 300 -f json -o -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.chunkSecondsSet = cmd.Flags().Changed("chunk-seconds")
			return runTranscribe(cmd, env, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Output file path, or - for stdout (default: <input>.<format extension>)")
	f.StringVarP(&opts.format, "format", "f", string(transcript.FormatText), "Output format: text, markdown, json, yaml")
	f.IntVar(&opts.chunkSeconds, "chunk-seconds", 0, "Maximum chunk length in seconds (default: config or 600)")
	f.StringVar(&opts.provider, "provider", "", "Speech-to-text provider: gemini, openai (default: config or gemini)")
	f.StringVar(&opts.model, "model", "", "Provider model override")
	f.StringVarP(&opts.language, "language", "l", "", "Audio language (ISO 639-1 code, e.g., en, fr, pt-BR)")
	f.StringVar(&opts.context, "context", "", "Names and vocabulary to help the provider")
	f.BoolVar(&opts.diarize, "diarize", false, "Request speaker labels from openai's diarization model")
	f.IntVar(&opts.sampleRate, "sample-rate", defaultSampleRate, "Sample rate of rendered chunks in Hz (0 keeps the source rate)")
	f.BoolVar(&opts.mono, "mono", true, "Downmix rendered chunks to one channel")
	f.BoolVar(&opts.passthrough, "passthrough", false, "Send recordings that fit in one chunk as-is, without re-encoding")
	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write run metrics to this file (Prometheus textfile format)")
	f.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Diagnostics level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", LogFormatText, "Diagnostics format: text, json")

	return cmd
}

// resolveSettings merges flags with the loaded config. Flags win.
func resolveSettings(opts transcribeOptions, cfg config.Config) (runSettings, error) {
	f, err := transcript.ParseFormat(opts.format)
	if err != nil {
		return runSettings{}, err
	}

	s := runSettings{
		format:       f,
		chunkSeconds: opts.chunkSeconds,
		provider:     opts.provider,
		model:        opts.model,
		language:     opts.language,
	}
	if !opts.chunkSecondsSet {
		s.chunkSeconds = cfg.ChunkSecondsOrDefault()
	}
	if s.provider == "" {
		s.provider = cfg.Provider
	}
	if s.provider == "" {
		s.provider = oracle.DefaultProvider
	}
	if s.model == "" {
		s.model = cfg.Model
	}
	if s.language == "" {
		s.language = cfg.Language
	}

	if s.chunkSeconds <= 0 {
		return runSettings{}, fmt.Errorf("%w: --chunk-seconds %d", audio.ErrInvalidChunkDuration, s.chunkSeconds)
	}
	if !oracle.IsProvider(s.provider) {
		return runSettings{}, fmt.Errorf("%w: %q (supported: %s)", oracle.ErrUnknownProvider, s.provider, strings.Join(oracle.Providers, ", "))
	}
	if err := lang.Validate(s.language); err != nil {
		return runSettings{}, err
	}
	if opts.sampleRate < 0 {
		return runSettings{}, fmt.Errorf("%w: --sample-rate %d", ErrInvalidFlag, opts.sampleRate)
	}
	return s, nil
}

// runTranscribe executes the transcription pipeline.
// Validation order: file exists -> settings -> logger -> output -> API key
func runTranscribe(cmd *cobra.Command, env *Env, inputPath string, opts transcribeOptions) error {
	ctx := cmd.Context()

	// === VALIDATION (fail-fast) ===

	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, inputPath)
		}
		return fmt.Errorf("cannot access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, inputPath)
	}

	cfg, err := env.ConfigLoader.Load()
	if err != nil {
		fmt.Fprintf(env.Stderr, "Warning: failed to load config: %v\n", err)
	}

	settings, err := resolveSettings(opts, cfg)
	if err != nil {
		return err
	}
	if opts.diarize && settings.provider != oracle.ProviderOpenAI {
		fmt.Fprintf(env.Stderr, "Warning: --diarize only applies to openai; %s labels speakers on its own\n", settings.provider)
	}

	log, err := newLogger(env.Stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	output := opts.output
	if output != stdoutPath {
		output = config.ResolveOutputPath(output, cfg.OutputDir, deriveOutputPath(filepath.Base(inputPath), settings.format))
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output file already exists: %s: %w", output, ErrOutputExists)
		}
		warnExtensionMismatch(env.Stderr, output, settings.format)
	}

	keyVar := oracle.EnvKey(settings.provider)
	apiKey := env.Getenv(keyVar)
	if apiKey == "" {
		return fmt.Errorf("%w: %s (set it with: export %s=...)", oracle.ErrAPIKeyMissing, keyVar, keyVar)
	}

	// === SETUP ===

	data, err := os.ReadFile(inputPath) // #nosec G304 -- user-specified input file
	if err != nil {
		return fmt.Errorf("cannot read input file: %w", err)
	}

	ffmpegPath, err := env.FFmpegResolver.Resolve(ctx)
	switch {
	case err == nil:
		env.FFmpegResolver.CheckVersion(ctx, ffmpegPath)
	case errors.Is(err, ffmpeg.ErrNotFound) && mimetype.Detect(data).Is(audio.MIMETypeWAV):
		fmt.Fprintln(env.Stderr, "Warning: ffmpeg not found, decoding WAV natively")
	default:
		return err
	}

	dec, err := env.DecoderFactory.NewDecoder(ffmpegPath)
	if err != nil {
		return err
	}

	orc, err := env.OracleFactory.NewOracle(settings.provider, apiKey,
		oracle.WithModel(settings.model),
		oracle.WithInstruction(oracle.Instruction{Language: settings.language, Context: opts.context}),
		oracle.WithDiarize(opts.diarize),
	)
	if err != nil {
		return err
	}

	m := metrics.New()
	if opts.metricsTextfile != "" {
		defer func() {
			if err := m.WriteTextfile(opts.metricsTextfile); err != nil {
				fmt.Fprintf(env.Stderr, "Warning: failed to write metrics: %v\n", err)
			}
		}()
	}

	handler, runCtx := env.InterruptFactory.NewHandler(ctx)
	defer handler.Stop()

	encOpts := []audio.EncoderOption{audio.WithSampleRate(opts.sampleRate)}
	if opts.mono {
		encOpts = append(encOpts, audio.WithDownmix())
	}

	maxChunk := time.Duration(settings.chunkSeconds) * time.Second
	driver, err := pipeline.New(dec, orc, maxChunk,
		pipeline.WithEncoder(audio.NewEncoder(encOpts...)),
		pipeline.WithPassthrough(opts.passthrough),
		pipeline.WithProgress(progressPrinter(env.Stderr)),
		pipeline.WithStop(handler.Stopping()),
		pipeline.WithLogger(log),
		pipeline.WithRecorder(m),
	)
	if err != nil {
		return err
	}

	// === TRANSCRIPTION ===

	fmt.Fprintf(env.Stderr, "Transcribing %s (%s) with %s, chunks of %s\n",
		filepath.Base(inputPath), format.Size(int64(len(data))), settings.provider, format.DurationHuman(maxChunk))

	res, runErr := driver.Run(runCtx, data)

	// === WRITE OUTPUT ===

	if runErr != nil {
		if len(res.Segments) > 0 {
			writePartial(env, output, settings.format, res)
		}
		return runErr
	}

	content, err := renderTranscript(settings.format, res.Segments)
	if err != nil {
		return err
	}
	if err := writeOutput(env.Stdout, output, content); err != nil {
		return err
	}

	fmt.Fprintf(env.Stderr, "Done: %s (%d segments, %s of audio)\n",
		displayPath(output), len(res.Segments), format.DurationHuman(res.Duration))
	return nil
}

// writePartial saves the segments merged before a failure. Errors are
// reported as warnings; the run error takes precedence.
func writePartial(env *Env, output string, f transcript.Format, res *pipeline.Result) {
	content, err := renderTranscript(f, res.Segments)
	if err == nil {
		err = writeOutput(env.Stdout, output, content)
	}
	if err != nil {
		fmt.Fprintf(env.Stderr, "Warning: failed to save partial transcript: %v\n", err)
		return
	}
	fmt.Fprintf(env.Stderr, "Partial transcript (%d/%d chunks): %s\n", res.Completed, res.Chunks, displayPath(output))
}

func displayPath(path string) string {
	if path == stdoutPath {
		return "stdout"
	}
	return path
}
