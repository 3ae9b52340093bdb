// Package interrupt turns SIGINT/SIGTERM into a two-step shutdown:
// the first signal asks the pipeline to stop after the current chunk,
// a second one within the window cancels the in-flight work.
package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ExitInterrupt is the exit code for interrupt (130 = 128 + SIGINT).
const ExitInterrupt = 130

// interruptWindow is the time window for a second Ctrl+C to trigger abort.
const interruptWindow = 2 * time.Second

// Messages displayed on stderr.
const (
	stopMessage  = "\nStopping after the current chunk. Press Ctrl+C again to abort."
	abortMessage = "\nAborted."
)

// Handler manages graceful interrupt handling with double Ctrl+C detection.
// First Ctrl+C closes the Stopping channel.
// Second Ctrl+C within the window cancels the handler's context.
type Handler struct {
	mu             sync.Mutex
	firstInterrupt time.Time
	interrupted    bool
	aborted        bool
	stopped        bool
	stopping       chan struct{} // Closed on first interrupt
	cancelFunc     context.CancelFunc
	done           chan struct{} // Signals listen goroutine to exit
	resetSignals   bool

	// Injected dependencies (for testing)
	nowFunc func() time.Time
	stderr  io.Writer
}

// Options holds injectable dependencies for testing.
type Options struct {
	SigCh   <-chan os.Signal
	NowFunc func() time.Time
	// Stderr is the writer for user-facing messages.
	// Must be safe for concurrent writes from multiple goroutines.
	// Defaults to os.Stderr which is safe at the OS level.
	Stderr io.Writer
}

// NewHandler creates a handler that listens for SIGINT/SIGTERM.
// Returns the handler and a context that is canceled on abort.
func NewHandler(parent context.Context) (*Handler, context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	h, ctx := newHandler(parent, Options{SigCh: sigCh})
	h.resetSignals = true
	return h, ctx
}

// NewHandlerWithOptions creates a handler with injectable dependencies.
// Used by tests to inject mock signal channels and clocks.
func NewHandlerWithOptions(parent context.Context, opts Options) (*Handler, context.Context) {
	return newHandler(parent, opts)
}

func newHandler(parent context.Context, opts Options) (*Handler, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	nowFunc := opts.NowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	h := &Handler{
		stopping:   make(chan struct{}),
		cancelFunc: cancel,
		done:       make(chan struct{}),
		nowFunc:    nowFunc,
		stderr:     stderr,
	}

	// Only start listener if sigCh is provided (nil check for safety)
	if opts.SigCh != nil {
		go h.listen(opts.SigCh)
	}

	return h, ctx
}

// listen handles incoming signals.
func (h *Handler) listen(sigCh <-chan os.Signal) {
	for {
		select {
		case <-h.done:
			return
		case _, ok := <-sigCh:
			if !ok {
				return // Channel closed
			}
			if h.handle() {
				return
			}
		}
	}
}

// handle processes one signal and reports whether listening should end.
func (h *Handler) handle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || h.aborted {
		return true
	}
	now := h.nowFunc()

	if !h.interrupted {
		h.interrupted = true
		h.firstInterrupt = now
		close(h.stopping)
		fmt.Fprintln(h.stderr, stopMessage)
		return false
	}

	if now.Sub(h.firstInterrupt) <= interruptWindow {
		h.aborted = true
		h.cancelFunc()
		fmt.Fprintln(h.stderr, abortMessage)
		return true
	}

	// A late second signal restarts the window.
	h.firstInterrupt = now
	fmt.Fprintln(h.stderr, stopMessage)
	return false
}

// Stopping returns a channel closed on the first interrupt.
func (h *Handler) Stopping() <-chan struct{} {
	return h.stopping
}

// WasInterrupted returns true if at least one interrupt was received.
func (h *Handler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// WasAborted returns true if a second interrupt canceled the context.
func (h *Handler) WasAborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

// Stop cleans up the handler. Should be called when done.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	if h.resetSignals {
		signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	}
	close(h.done) // Signal listen goroutine to exit
	h.cancelFunc()
}
