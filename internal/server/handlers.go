package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/pipeline"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// Run statuses reported in Response.Status.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Response is the body of a transcription reply. Failed runs still carry
// the segments merged before the failure.
type Response struct {
	RunID       string              `json:"run_id"`
	Status      string              `json:"status"`
	ChunksTotal int                 `json:"chunks_total"`
	ChunksDone  int                 `json:"chunks_done"`
	Segments    []transcript.Record `json:"segments"`
	Error       string              `json:"error,omitempty"`
}

func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "missing multipart field \"file\"")
	}

	maxChunk := s.maxChunk
	if raw := strings.TrimSpace(c.FormValue("chunk_seconds")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("chunk_seconds: %q is not an integer", raw))
		}
		maxChunk = time.Duration(secs) * time.Second
		if maxChunk <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(Response{
				Status:   StatusFailed,
				Segments: []transcript.Record{},
				Error:    fmt.Sprintf("%v: %s", audio.ErrInvalidChunkDuration, maxChunk),
			})
		}
	}

	language := strings.TrimSpace(c.FormValue("language"))
	if err := lang.Validate(language); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	ctx := c.UserContext()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "server is shutting down")
	}
	defer s.sem.Release(1)

	orc, err := s.newOracle(language)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	log := s.logger.WithField("request_id", requestID(c))
	driver, err := pipeline.New(s.decoder, orc, maxChunk,
		pipeline.WithEncoder(s.encoder),
		pipeline.WithPassthrough(s.passthrough),
		pipeline.WithLogger(log),
		pipeline.WithRecorder(s.metrics),
	)
	if err != nil {
		return c.Status(statusFor(err)).JSON(Response{
			Status:   StatusFailed,
			Segments: []transcript.Record{},
			Error:    err.Error(),
		})
	}

	res, runErr := driver.Run(ctx, data)
	resp := Response{
		RunID:       res.RunID,
		Status:      StatusCompleted,
		ChunksTotal: res.Chunks,
		ChunksDone:  res.Completed,
		Segments:    transcript.Records(res.Segments),
	}
	if runErr != nil {
		resp.Status = StatusFailed
		resp.Error = runErr.Error()
	}
	return c.Status(statusFor(runErr)).JSON(resp)
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, audio.ErrInvalidChunkDuration):
		return fiber.StatusBadRequest
	case errors.Is(err, audio.ErrUnsupportedFormat), errors.Is(err, audio.ErrCorruptAudio):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrTransportFailure):
		return fiber.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
