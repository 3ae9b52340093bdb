// Package apierr classifies provider failures into a small set of sentinels
// and retries the transient ones.
//
// Adapters wrap provider errors at their boundary with
// fmt.Errorf("%s: %w", msg, apierr.ErrX); everything above them matches
// with errors.Is.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimit is a temporary throttle. Retryable.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrQuotaExceeded is a billing or hard quota problem that needs the
	// user to act.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTimeout is a request or processing deadline. Retryable.
	ErrTimeout = errors.New("request timeout")

	// ErrAuthFailed is a rejected or missing credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBadRequest is any other 4xx.
	ErrBadRequest = errors.New("bad request")

	// ErrServerError is a provider-side 5xx. Retryable.
	ErrServerError = errors.New("server error")

	// ErrMalformedResponse is a body that did not parse or had the wrong shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	for _, target := range []error{ErrRateLimit, ErrTimeout, ErrServerError} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FromStatus maps an HTTP error status to a sentinel and keeps the status
// and provider message in the text. A 429 is always ErrRateLimit: whether
// it is really a quota depends on provider wording, so adapters check that
// before calling.
func FromStatus(status int, msg string) error {
	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		sentinel = ErrAuthFailed
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		sentinel = ErrTimeout
	case status >= 500:
		sentinel = ErrServerError
	case status >= 400:
		sentinel = ErrBadRequest
	default:
		return fmt.Errorf("HTTP %d: %s", status, msg)
	}
	return fmt.Errorf("HTTP %d: %s: %w", status, msg, sentinel)
}
