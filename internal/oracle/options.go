package oracle

import (
	"net/http"
	"strings"
	"time"
)

// Default retry configuration shared by all providers.
const (
	defaultMaxRetries  = 5
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultHTTPTimeout = 10 * time.Minute

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 10 << 20
)

// clientConfig holds settings common to every oracle client.
type clientConfig struct {
	baseURL     string
	model       string
	instruction Instruction
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	httpClient  httpDoer

	// Gemini only.
	inlineLimit  int
	pollInterval time.Duration

	// OpenAI only.
	diarize     bool
	transcriber audioTranscriber
}

// Option configures an oracle client.
type Option func(*clientConfig)

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithInstruction sets language, marker and context hints.
func WithInstruction(in Instruction) Option {
	return func(c *clientConfig) { c.instruction = in }
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *clientConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelays sets the base and max delays for exponential backoff.
func WithRetryDelays(base, max time.Duration) Option {
	return func(c *clientConfig) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithBaseURL sets a custom base URL (for testing or proxies).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(h httpDoer) Option {
	return func(c *clientConfig) { c.httpClient = h }
}

// WithInlineLimit sets the largest chunk, in bytes, that Gemini receives
// inline. Larger chunks go through the Files API.
func WithInlineLimit(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.inlineLimit = n
		}
	}
}

// WithDiarize asks OpenAI for speaker labels via the diarization model.
func WithDiarize(enabled bool) Option {
	return func(c *clientConfig) { c.diarize = enabled }
}

func newClientConfig(baseURL, model string, opts []Option) clientConfig {
	c := clientConfig{
		baseURL:      baseURL,
		model:        model,
		maxRetries:   defaultMaxRetries,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		inlineLimit:  defaultInlineLimit,
		pollInterval: defaultFilePollInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient()
	}
	return c
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}
