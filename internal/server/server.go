// Package server exposes the transcription pipeline over HTTP.
//
// Each POST /v1/transcriptions runs one pipeline to completion and answers
// with the merged transcript. Concurrent runs are bounded by a weighted
// semaphore so the oracle's per-caller rate limit holds across requests.
package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/metrics"
	"github.com/alnah/chunkscribe/internal/oracle"
)

// Defaults.
const (
	DefaultBodyLimit     = 512 << 20
	DefaultMaxConcurrent = 1

	shutdownTimeout = 30 * time.Second
)

// OracleFactory builds an oracle for one request. language is the
// request's transcript language, possibly empty.
type OracleFactory func(language string) (oracle.Oracle, error)

// Server serves the HTTP API.
type Server struct {
	app       *fiber.App
	decoder   audio.Decoder
	newOracle OracleFactory
	maxChunk  time.Duration

	bodyLimit     int
	maxConcurrent int64
	sem           *semaphore.Weighted
	encoder       *audio.Encoder
	passthrough   bool
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for requests and runs.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxConcurrent bounds the number of runs in flight.
func WithMaxConcurrent(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConcurrent = int64(n)
		}
	}
}

// WithBodyLimit sets the largest accepted request body in bytes.
func WithBodyLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithEncoder sets the chunk encoder used by every run.
func WithEncoder(e *audio.Encoder) Option {
	return func(s *Server) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithPassthrough sends short uploads to the oracle as received.
func WithPassthrough(enabled bool) Option {
	return func(s *Server) { s.passthrough = enabled }
}

// New creates a Server. maxChunk is the default chunk length; requests may
// override it.
func New(dec audio.Decoder, newOracle OracleFactory, maxChunk time.Duration, opts ...Option) (*Server, error) {
	if dec == nil {
		return nil, errors.New("server: nil decoder")
	}
	if newOracle == nil {
		return nil, errors.New("server: nil oracle factory")
	}
	if maxChunk <= 0 {
		return nil, audio.ErrInvalidChunkDuration
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Server{
		decoder:       dec,
		newOracle:     newOracle,
		maxChunk:      maxChunk,
		bodyLimit:     DefaultBodyLimit,
		maxConcurrent: DefaultMaxConcurrent,
		encoder:       audio.NewEncoder(),
		metrics:       metrics.New(),
		logger:        discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(s.maxConcurrent)

	s.app = fiber.New(fiber.Config{
		AppName:               "chunkscribe",
		BodyLimit:             s.bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Use(s.requestLogger())

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	v1 := s.app.Group("/v1")
	v1.Post("/transcriptions", s.handleTranscribe)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()

	s.logger.WithField("addr", addr).Info("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"status": "error",
		"error":  err.Error(),
	})
}
