package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/cli"
	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/ffmpeg"
	"github.com/alnah/chunkscribe/internal/interrupt"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/oracle"
	"github.com/alnah/chunkscribe/internal/pipeline"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitGeneral       = 1
	ExitUsage         = 2
	ExitSetup         = 3
	ExitValidation    = 4
	ExitTranscription = 5
	ExitInterrupt     = interrupt.ExitInterrupt
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	// Commands install their own signal handling: transcribe stops after the
	// current chunk on the first Ctrl+C, serve drains on SIGTERM.
	ctx := context.Background()

	env := cli.DefaultEnv()

	rootCmd := &cobra.Command{
		Use:     "chunkscribe",
		Short:   "Transcribe recordings of any length, one chunk at a time",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(cli.TranscribeCmd(env))
	rootCmd.AddCommand(cli.ServeCmd(env))
	rootCmd.AddCommand(cli.ConfigCmd(env))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, pipeline.ErrStopped) {
		return ExitInterrupt
	}

	// Cobra doesn't expose typed errors, so usage errors are matched by message.
	if isCobraUsageError(err) {
		return ExitUsage
	}

	if errors.Is(err, ffmpeg.ErrNotFound) || errors.Is(err, oracle.ErrAPIKeyMissing) {
		return ExitSetup
	}

	if errors.Is(err, cli.ErrFileNotFound) || errors.Is(err, cli.ErrOutputExists) ||
		errors.Is(err, cli.ErrInvalidFlag) || errors.Is(err, lang.ErrInvalid) ||
		errors.Is(err, audio.ErrUnsupportedFormat) || errors.Is(err, audio.ErrCorruptAudio) ||
		errors.Is(err, audio.ErrInvalidChunkDuration) || errors.Is(err, oracle.ErrUnknownProvider) ||
		errors.Is(err, transcript.ErrUnknownFormat) || errors.Is(err, config.ErrUnknownKey) ||
		errors.Is(err, config.ErrInvalidValue) || errors.Is(err, config.ErrNotDirectory) {
		return ExitValidation
	}

	if errors.Is(err, pipeline.ErrTransportFailure) || isAPIError(err) {
		return ExitTranscription
	}

	return ExitGeneral
}

func isAPIError(err error) bool {
	for _, target := range []error{
		apierr.ErrRateLimit, apierr.ErrQuotaExceeded, apierr.ErrTimeout, apierr.ErrAuthFailed,
		apierr.ErrBadRequest, apierr.ErrServerError, apierr.ErrMalformedResponse,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// cobraUsageErrorPatterns contains error message substrings that indicate Cobra usage errors.
// These patterns are stable across Cobra versions (tested with v1.8+).
var cobraUsageErrorPatterns = []string{
	"required flag",             // Missing required flag
	"unknown flag",              // Flag doesn't exist
	"unknown shorthand",         // Short flag doesn't exist
	"unknown command",           // Subcommand doesn't exist
	"flag needs an argument",    // Flag provided without value
	"invalid argument",          // Invalid flag value type
	"if any flags in the group", // Mutually exclusive flag violation
	"accepts ",                  // Wrong number of arguments (e.g., "accepts 1 arg(s)")
	"requires at least",         // Too few arguments
	"requires at most",          // Too many arguments
}

// isCobraUsageError checks if an error is a Cobra usage/parsing error.
func isCobraUsageError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
