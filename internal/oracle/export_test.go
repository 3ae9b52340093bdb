package oracle

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// AudioTranscriber mirrors the unexported interface for test mocks.
type AudioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WithTranscriber injects a go-openai client replacement.
func WithTranscriber(t AudioTranscriber) Option {
	return func(c *clientConfig) { c.transcriber = t }
}

// WithPollInterval shortens the Files API polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *clientConfig) { c.pollInterval = d }
}

var (
	SecondsToTimestamp  = secondsToTimestamp
	ClassifyStatus      = classifyStatus
	ClassifyGeminiError = func(status int, body string) error {
		return classifyGeminiError(parseGeminiError(status, []byte(body)))
	}
	ExtensionFor = extensionFor
)
