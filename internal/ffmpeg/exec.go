package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Executor - testable FFmpeg execution with dependency injection
// ---------------------------------------------------------------------------

// runOutputFn runs a command and captures its stderr.
type runOutputFn func(ctx context.Context, path string, args []string) (string, error)

// pipeFn runs a command with stdin bytes and captures stdout and stderr.
type pipeFn func(ctx context.Context, path string, args []string, stdin []byte) ([]byte, string, error)

// Executor runs FFmpeg commands with injectable dependencies.
type Executor struct {
	runOutput runOutputFn
	pipe      pipeFn
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRunOutput sets a custom runOutput function (for testing).
func WithRunOutput(fn runOutputFn) ExecutorOption {
	return func(e *Executor) { e.runOutput = fn }
}

// WithPipe sets a custom pipe function (for testing).
func WithPipe(fn pipeFn) ExecutorOption {
	return func(e *Executor) { e.pipe = fn }
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		runOutput: defaultRunOutput,
		pipe:      defaultPipe,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOutput executes FFmpeg and captures its stderr output.
// FFmpeg writes most diagnostic output (including probe info) to stderr.
func (e *Executor) RunOutput(ctx context.Context, ffmpegPath string, args []string) (string, error) {
	return e.runOutput(ctx, ffmpegPath, args)
}

// Pipe executes FFmpeg with stdin fed from the given bytes.
// It returns everything written to stdout and the stderr diagnostics.
// Stderr is returned even when the command fails.
func (e *Executor) Pipe(ctx context.Context, ffmpegPath string, args []string, stdin []byte) ([]byte, string, error) {
	return e.pipe(ctx, ffmpegPath, args, stdin)
}

// defaultRunOutput is the production implementation.
// Returns stderr output even when the command fails, since FFmpeg often returns
// non-zero exit codes for valid operations.
func defaultRunOutput(ctx context.Context, ffmpegPath string, args []string) (string, error) {
	// #nosec G204 -- ffmpegPath comes from the resolver, args are built internally
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stderr.String(), err
}

// defaultPipe streams stdin into FFmpeg while draining stdout.
// Both directions must run concurrently: FFmpeg blocks on a full stdout pipe
// before it has consumed all of its input.
func defaultPipe(ctx context.Context, ffmpegPath string, args []string, stdin []byte) ([]byte, string, error) {
	// #nosec G204 -- ffmpegPath comes from the resolver, args are built internally
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		_ = in.Close()
		return nil, "", fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = in.Close()
		return nil, "", fmt.Errorf("start ffmpeg: %w", err)
	}

	var stdout bytes.Buffer
	var g errgroup.Group

	g.Go(func() error {
		defer func() { _ = in.Close() }()
		// FFmpeg may close stdin early once it has seen enough (or failed to probe).
		// The exit status reported by Wait is the meaningful error in that case.
		_, _ = io.Copy(in, bytes.NewReader(stdin))
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(&stdout, out)
		return err
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		return stdout.Bytes(), stderr.String(), fmt.Errorf("ffmpeg: %w", waitErr)
	}
	if copyErr != nil {
		return stdout.Bytes(), stderr.String(), fmt.Errorf("read ffmpeg output: %w", copyErr)
	}
	return stdout.Bytes(), stderr.String(), nil
}

// ---------------------------------------------------------------------------
// Package-level functions
// ---------------------------------------------------------------------------

var (
	defaultExecutor     *Executor
	defaultExecutorOnce sync.Once
)

// DefaultExecutor returns the lazily-initialized process-backed executor.
func DefaultExecutor() *Executor {
	defaultExecutorOnce.Do(func() {
		defaultExecutor = NewExecutor()
	})
	return defaultExecutor
}
