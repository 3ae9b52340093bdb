package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/transport"
)

// OpenAI transcription configuration.
// The diarization identifiers are not yet defined in go-openai.
const (
	defaultOpenAIBaseURL = "https://api.openai.com"

	// DefaultOpenAIModel returns segment-level timestamps with verbose_json.
	DefaultOpenAIModel = openai.Whisper1

	// ModelGPT4oTranscribeDiarize is the transcription model with speaker identification.
	ModelGPT4oTranscribeDiarize = "gpt-4o-transcribe-diarize"

	// FormatDiarizedJSON is the response format for diarized transcription.
	FormatDiarizedJSON openai.AudioResponseFormat = "diarized_json"

	// ChunkingStrategyAuto lets OpenAI automatically determine chunking boundaries.
	// Required for diarization model when input is longer than 30 seconds.
	ChunkingStrategyAuto = "auto"
)

// Compile-time interface compliance check.
var _ Oracle = (*OpenAIOracle)(nil)

// OpenAIOracle transcribes chunks with OpenAI's audio transcription API.
// Without diarization it uses go-openai and verbose_json segments; with
// diarization it posts multipart requests directly, since go-openai lacks
// the chunking_strategy field.
type OpenAIOracle struct {
	apiKey string
	client audioTranscriber
	cfg    clientConfig
}

// NewOpenAIOracle creates an OpenAIOracle. apiKey is required.
func NewOpenAIOracle(apiKey string, opts ...Option) (*OpenAIOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY: %w", ErrAPIKeyMissing)
	}
	cfg := newClientConfig(defaultOpenAIBaseURL, DefaultOpenAIModel, opts)
	if cfg.diarize && cfg.model == DefaultOpenAIModel {
		cfg.model = ModelGPT4oTranscribeDiarize
	}

	o := &OpenAIOracle{apiKey: apiKey, cfg: cfg, client: cfg.transcriber}
	if o.client == nil {
		clientCfg := openai.DefaultConfig(apiKey)
		clientCfg.BaseURL = cfg.baseURL + "/v1"
		if hc, ok := cfg.httpClient.(*http.Client); ok {
			clientCfg.HTTPClient = hc
		}
		o.client = openai.NewClientWithConfig(clientCfg)
	}
	return o, nil
}

// Model returns the configured model name.
func (o *OpenAIOracle) Model() string { return o.cfg.model }

// Transcribe sends one chunk and returns its chunk-local segments.
func (o *OpenAIOracle) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	data, err := transport.Decode(req.Audio)
	if err != nil {
		return nil, err
	}
	filename := fmt.Sprintf("chunk-%03d%s", req.Chunk, extensionFor(req.Audio.MIMEType))

	retry := apierr.RetryConfig{
		MaxRetries: o.cfg.maxRetries,
		BaseDelay:  o.cfg.baseDelay,
		MaxDelay:   o.cfg.maxDelay,
	}

	if o.cfg.diarize {
		return apierr.RetryWithBackoff(ctx, retry, func() ([]Segment, error) {
			return o.transcribeDiarizeHTTP(ctx, filename, data)
		}, apierr.IsRetryable)
	}

	return apierr.RetryWithBackoff(ctx, retry, func() ([]Segment, error) {
		resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    o.cfg.model,
			FilePath: filename,
			Reader:   bytes.NewReader(data),
			Prompt:   o.cfg.instruction.Context,
			Language: lang.BaseCode(o.cfg.instruction.Language), // OpenAI only accepts ISO 639-1 base codes
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		return segmentsFromVerbose(resp)
	}, apierr.IsRetryable)
}

// segmentsFromVerbose converts verbose_json segments. A response without
// segments but with text becomes a single segment at the clip start.
func segmentsFromVerbose(resp openai.AudioResponse) ([]Segment, error) {
	if len(resp.Segments) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			return []Segment{{Timestamp: secondsToTimestamp(0), Text: text}}, nil
		}
		return nil, nil
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Timestamp: secondsToTimestamp(s.Start), Text: text})
	}
	return segments, ValidateSegments(segments)
}

// transcribeDiarizeHTTP performs a diarization transcription via direct HTTP.
func (o *OpenAIOracle) transcribeDiarizeHTTP(ctx context.Context, filename string, data []byte) (_ []Segment, err error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to copy audio to form: %w", err)
	}

	fields := [][2]string{
		{"model", o.cfg.model},
		{"response_format", string(FormatDiarizedJSON)},
		// chunking_strategy is required for diarization model
		{"chunking_strategy", ChunkingStrategyAuto},
	}
	if o.cfg.instruction.Context != "" {
		fields = append(fields, [2]string{"prompt", o.cfg.instruction.Context})
	}
	if code := lang.BaseCode(o.cfg.instruction.Language); code != "" {
		fields = append(fields, [2]string{"language", code})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.cfg.httpClient.Do(req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	respBody, err := readLimited(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseDiarizeHTTPError(resp.StatusCode, respBody)
	}
	return parseDiarizeResponse(respBody)
}

// diarizeResponse represents the OpenAI diarized transcription response.
type diarizeResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		ID      string  `json:"id"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// parseDiarizeResponse parses the diarized JSON response.
func parseDiarizeResponse(body []byte) ([]Segment, error) {
	var resp diarizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %s: %w", err.Error(), apierr.ErrMalformedResponse)
	}

	if len(resp.Segments) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			return []Segment{{Timestamp: secondsToTimestamp(0), Text: text}}, nil
		}
		return nil, nil
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := seg.Speaker
		if speaker != "" && !strings.HasPrefix(strings.ToLower(speaker), "speaker") {
			speaker = "Speaker " + speaker
		}
		segments = append(segments, Segment{
			Timestamp: secondsToTimestamp(seg.Start),
			Speaker:   speaker,
			Text:      text,
		})
	}
	return segments, ValidateSegments(segments)
}

// parseDiarizeHTTPError parses an HTTP error response from OpenAI.
func parseDiarizeHTTPError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	return classifyStatus(statusCode, msg)
}

// classifyOpenAIError maps OpenAI API errors to sentinel errors.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}

	// Check for context timeout/deadline exceeded.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", apierr.ErrTimeout)
	}
	return err
}

// classifyStatus maps an HTTP status and message to apierr sentinels.
// OpenAI answers 403 for unsupported regions, which no new key fixes.
func classifyStatus(statusCode int, msg string) error {
	switch {
	case statusCode == http.StatusTooManyRequests && (strings.Contains(msg, "quota") || strings.Contains(msg, "billing")):
		return fmt.Errorf("%s: %w", msg, apierr.ErrQuotaExceeded)
	case statusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, apierr.ErrBadRequest)
	default:
		return apierr.FromStatus(statusCode, msg)
	}
}

// extensionFor returns a filename extension OpenAI recognizes for mimeType.
func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return ".m4a"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "flac"):
		return ".flac"
	default:
		return ".wav"
	}
}
