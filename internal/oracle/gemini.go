package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/transport"
)

// Gemini API configuration.
const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultGeminiModel is the default Gemini model for transcription.
	DefaultGeminiModel = "gemini-2.5-flash"

	// defaultInlineLimit keeps base64 audio plus the JSON envelope under the
	// 20 MB generateContent request limit.
	defaultInlineLimit = 14 << 20

	// Files API processing poll settings.
	defaultFilePollInterval = 2 * time.Second
	maxFilePolls            = 60
)

// Compile-time interface compliance check.
var _ Oracle = (*GeminiOracle)(nil)

// GeminiOracle transcribes chunks with Gemini's generateContent REST API and
// a JSON response schema.
type GeminiOracle struct {
	apiKey string
	cfg    clientConfig
}

// NewGeminiOracle creates a GeminiOracle. apiKey is required.
func NewGeminiOracle(apiKey string, opts ...Option) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY: %w", ErrAPIKeyMissing)
	}
	return &GeminiOracle{
		apiKey: apiKey,
		cfg:    newClientConfig(defaultGeminiBaseURL, DefaultGeminiModel, opts),
	}, nil
}

// Model returns the configured model name.
func (g *GeminiOracle) Model() string { return g.cfg.model }

// Transcribe sends one chunk and returns its chunk-local segments.
// Chunks larger than the inline limit are uploaded through the Files API
// and deleted afterwards.
func (g *GeminiOracle) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	if req.Audio.Data == "" {
		return nil, transport.ErrEmptyPayload
	}

	audioPart := geminiPart{InlineData: &geminiBlob{MIMEType: req.Audio.MIMEType, Data: req.Audio.Data}}
	if req.Audio.Size() > g.cfg.inlineLimit {
		file, err := g.uploadWithRetry(ctx, req)
		if err != nil {
			return nil, err
		}
		defer g.deleteFile(context.WithoutCancel(ctx), file.Name)
		audioPart = geminiPart{FileData: &geminiFileData{MIMEType: file.MIMEType, FileURI: file.URI}}
	}

	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: g.cfg.instruction.Prompt()}}},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				audioPart,
				{Text: fmt.Sprintf("Transcribe this recording (part %d of %d).", req.Chunk+1, max(req.Total, req.Chunk+1))},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   segmentSchema,
			Temperature:      0,
		},
	}

	retry := apierr.RetryConfig{
		MaxRetries: g.cfg.maxRetries,
		BaseDelay:  g.cfg.baseDelay,
		MaxDelay:   g.cfg.maxDelay,
	}
	return apierr.RetryWithBackoff(ctx, retry, func() ([]Segment, error) {
		text, err := g.generate(ctx, body)
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		return ParseSegments(text)
	}, apierr.IsRetryable)
}

// Gemini request/response types.

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
	Temperature      float64        `json:"temperature"`
}

// segmentSchema constrains the answer to an array of Segment objects.
var segmentSchema = map[string]any{
	"type": "ARRAY",
	"items": map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"timestamp": map[string]any{"type": "STRING", "description": "Time from the start of the clip, formatted as [MM:SS]"},
			"speaker":   map[string]any{"type": "STRING", "description": "Speaker label"},
			"text":      map[string]any{"type": "STRING", "description": "Verbatim utterance"},
		},
		"required":         []string{"timestamp", "speaker", "text"},
		"propertyOrdering": []string{"timestamp", "speaker", "text"},
	},
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

// generate calls generateContent and returns the concatenated text parts.
func (g *GeminiOracle) generate(ctx context.Context, reqBody geminiRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.baseURL, g.cfg.model)
	respBody, _, err := g.do(ctx, http.MethodPost, url, map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %s: %w", err.Error(), apierr.ErrMalformedResponse)
	}

	if len(resp.Candidates) == 0 {
		if reason := resp.PromptFeedback.BlockReason; reason != "" {
			return "", fmt.Errorf("prompt blocked (%s): %w", reason, apierr.ErrBadRequest)
		}
		return "", fmt.Errorf("no candidates in response: %w", apierr.ErrMalformedResponse)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// uploadWithRetry pushes the chunk through the resumable Files API.
func (g *GeminiOracle) uploadWithRetry(ctx context.Context, req Request) (*geminiFile, error) {
	data, err := transport.Decode(req.Audio)
	if err != nil {
		return nil, err
	}

	retry := apierr.RetryConfig{
		MaxRetries: g.cfg.maxRetries,
		BaseDelay:  g.cfg.baseDelay,
		MaxDelay:   g.cfg.maxDelay,
	}
	file, err := apierr.RetryWithBackoff(ctx, retry, func() (*geminiFile, error) {
		f, err := g.upload(ctx, fmt.Sprintf("chunk-%03d", req.Chunk), req.Audio.MIMEType, data)
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		return f, nil
	}, apierr.IsRetryable)
	if err != nil {
		return nil, fmt.Errorf("upload chunk %d: %w", req.Chunk, err)
	}

	return g.waitActive(ctx, file)
}

func (g *GeminiOracle) upload(ctx context.Context, displayName, mimeType string, data []byte) (*geminiFile, error) {
	meta, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": displayName}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	_, header, err := g.do(ctx, http.MethodPost, g.cfg.baseURL+"/upload/v1beta/files", map[string]string{
		"Content-Type":                        "application/json",
		"X-Goog-Upload-Protocol":              "resumable",
		"X-Goog-Upload-Command":               "start",
		"X-Goog-Upload-Header-Content-Length": strconv.Itoa(len(data)),
		"X-Goog-Upload-Header-Content-Type":   mimeType,
	}, bytes.NewReader(meta))
	if err != nil {
		return nil, err
	}

	uploadURL := header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("no upload URL returned: %w", apierr.ErrMalformedResponse)
	}

	respBody, _, err := g.do(ctx, http.MethodPost, uploadURL, map[string]string{
		"X-Goog-Upload-Offset":  "0",
		"X-Goog-Upload-Command": "upload, finalize",
	}, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var resp struct {
		File geminiFile `json:"file"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.File.URI == "" {
		return nil, fmt.Errorf("failed to parse upload response: %w", apierr.ErrMalformedResponse)
	}
	if resp.File.MIMEType == "" {
		resp.File.MIMEType = mimeType
	}
	return &resp.File, nil
}

// waitActive polls until the uploaded file can be referenced.
func (g *GeminiOracle) waitActive(ctx context.Context, file *geminiFile) (*geminiFile, error) {
	for range maxFilePolls {
		switch file.State {
		case "", "ACTIVE":
			return file, nil
		case "FAILED":
			g.deleteFile(context.WithoutCancel(ctx), file.Name)
			return nil, fmt.Errorf("file %s processing failed: %w", file.Name, apierr.ErrBadRequest)
		}

		timer := time.NewTimer(g.cfg.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		respBody, _, err := g.do(ctx, http.MethodGet, g.cfg.baseURL+"/v1beta/"+file.Name, nil, nil)
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		var next geminiFile
		if err := json.Unmarshal(respBody, &next); err != nil {
			return nil, fmt.Errorf("failed to parse file status: %w", apierr.ErrMalformedResponse)
		}
		if next.MIMEType == "" {
			next.MIMEType = file.MIMEType
		}
		file = &next
	}
	return nil, fmt.Errorf("file %s still processing: %w", file.Name, apierr.ErrTimeout)
}

// deleteFile removes an uploaded file. Failures are ignored; files expire
// on their own after 48 hours.
func (g *GeminiOracle) deleteFile(ctx context.Context, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, _, _ = g.do(ctx, http.MethodDelete, g.cfg.baseURL+"/v1beta/"+name, nil, nil)
}

// do executes an authenticated request and returns the body of a 2xx response.
func (g *GeminiOracle) do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (_ []byte, _ http.Header, err error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.cfg.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	// Limit response size to prevent OOM from malformed responses
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, parseGeminiError(resp.StatusCode, respBody)
	}
	return respBody, resp.Header, nil
}

// geminiAPIError represents a typed Gemini API error.
type geminiAPIError struct {
	StatusCode int
	Status     string
	Message    string
	RetryDelay time.Duration // From a google.rpc.RetryInfo detail, if any.
}

func (e *geminiAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Gemini API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Gemini API error %d", e.StatusCode)
}

// parseGeminiError parses an error response from the Gemini API.
func parseGeminiError(statusCode int, body []byte) *geminiAPIError {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &geminiAPIError{StatusCode: statusCode, Message: string(body)}
	}
	apiErr := &geminiAPIError{
		StatusCode: statusCode,
		Status:     errResp.Error.Status,
		Message:    errResp.Error.Message,
	}
	for _, d := range errResp.Error.Details {
		if !strings.HasSuffix(d.Type, "google.rpc.RetryInfo") {
			continue
		}
		if delay, err := time.ParseDuration(d.RetryDelay); err == nil {
			apiErr.RetryDelay = delay
		}
	}
	return apiErr
}

// classifyGeminiError maps Gemini API errors to apierr sentinel errors.
func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *geminiAPIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests && strings.Contains(msg, "billing"):
			// Billing problems need user action; per-minute quotas recover.
			return fmt.Errorf("%s: %w", msg, apierr.ErrQuotaExceeded)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return apierr.WithRetryAfter(apierr.FromStatus(apiErr.StatusCode, msg), apiErr.RetryDelay)
		case apiErr.StatusCode == http.StatusBadRequest && strings.Contains(msg, "API key"):
			return fmt.Errorf("%s: %w", msg, apierr.ErrAuthFailed)
		case apiErr.StatusCode >= 400:
			return apierr.FromStatus(apiErr.StatusCode, msg)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", apierr.ErrTimeout)
	}
	return err
}
