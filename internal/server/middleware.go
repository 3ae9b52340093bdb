package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// localRequestID is the fiber locals key holding the request ID.
const localRequestID = "request_id"

// headerRequestID echoes the request ID to clients.
const headerRequestID = "X-Request-ID"

// requestLogger tags each request with an ID, logs its outcome and records
// HTTP metrics.
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		id := uuid.NewString()
		c.Locals(localRequestID, id)
		c.Set(headerRequestID, id)

		err := c.Next()
		if err != nil {
			// Let the error handler set the status before it is logged.
			if herr := s.handleError(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		route := c.Route().Path
		s.metrics.ObserveHTTP(c.Method(), route, status, latency)

		entry := s.logger.WithFields(logrus.Fields{
			"request_id":  id,
			"http_method": c.Method(),
			"uri":         c.OriginalURL(),
			"status_code": status,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.IP(),
		})
		switch {
		case err != nil:
			entry.WithError(err).Error("request failed")
		case status >= 500:
			entry.Error("request completed with server error")
		case status >= 400:
			entry.Warn("request completed with client error")
		default:
			entry.Info("request completed")
		}
		return nil
	}
}

// requestID returns the ID assigned by requestLogger.
func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}
