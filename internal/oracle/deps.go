package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// httpDoer abstracts HTTP client for testing.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// audioTranscriber is the subset of *openai.Client used by OpenAIOracle.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Compile-time interface compliance checks.
var (
	_ httpDoer         = (*http.Client)(nil)
	_ audioTranscriber = (*openai.Client)(nil)
)

// readLimited reads at most maxResponseSize bytes of resp's body.
func readLimited(resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return b, nil
}
