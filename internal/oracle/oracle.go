// Package oracle adapts external speech-to-text services to a common
// chunk-level contract: one audio payload in, timestamped segments out.
//
// Timestamps returned by an Oracle are relative to the start of the chunk.
// Callers add the chunk offset; oracles never do.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/lang"
	"github.com/alnah/chunkscribe/internal/transcript"
	"github.com/alnah/chunkscribe/internal/transport"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Segment is one utterance as reported by an oracle.
type Segment struct {
	Timestamp string `json:"timestamp" validate:"required,timestamp"` // Chunk-local, [MM:SS] or MM:SS.
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// Request is one chunk to transcribe.
type Request struct {
	Audio  transport.Payload
	Chunk  int           // Zero-based chunk index.
	Total  int           // Number of chunks in the run.
	Offset time.Duration // Chunk start in the source recording (informational).
}

// Oracle transcribes a single chunk.
type Oracle interface {
	Transcribe(ctx context.Context, req Request) ([]Segment, error)
}

// DefaultUnintelligibleMarker replaces words the oracle cannot make out.
const DefaultUnintelligibleMarker = "[inaudible]"

// Instruction describes what the oracle is asked to produce.
type Instruction struct {
	Language string // Transcript language; empty lets the oracle decide.
	Marker   string // Unintelligible-word marker; empty uses the default.
	Context  string // Optional domain hints (names, vocabulary).
}

// Prompt renders the system instruction.
func (in Instruction) Prompt() string {
	marker := in.Marker
	if marker == "" {
		marker = DefaultUnintelligibleMarker
	}

	var b strings.Builder
	b.WriteString("You are a professional transcriptionist. Produce a verbatim transcript of the provided audio clip.\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Give every utterance a timestamp in the format [MM:SS], measured from the start of this clip.\n")
	b.WriteString("2. Identify speakers where possible and label them consistently within the clip (Speaker A, Speaker B, ...).\n")
	fmt.Fprintf(&b, "3. Replace words you cannot make out with %s.\n", marker)
	b.WriteString("4. Respond with a strict JSON array of objects with the fields timestamp, speaker and text.\n")
	if in.Language != "" {
		fmt.Fprintf(&b, "5. Write the transcript in %s.\n", lang.DisplayName(in.Language))
	}
	if in.Context != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", in.Context)
	}
	return b.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, err := transcript.ParseTimestamp(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidateSegments checks every segment's shape.
func ValidateSegments(segments []Segment) error {
	for i := range segments {
		if err := validate.Struct(&segments[i]); err != nil {
			return fmt.Errorf("segment %d: %s: %w", i, err.Error(), apierr.ErrMalformedResponse)
		}
	}
	return nil
}

// ParseSegments decodes an oracle's JSON answer.
// An empty answer means the clip had no speech. Markdown code fences around
// the array are tolerated.
func ParseSegments(text string) ([]Segment, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, nil
	}

	var segments []Segment
	if err := json.Unmarshal([]byte(text), &segments); err != nil {
		return nil, fmt.Errorf("decode segments: %s: %w", err.Error(), apierr.ErrMalformedResponse)
	}
	if err := ValidateSegments(segments); err != nil {
		return nil, err
	}
	// Utterances with no words (a cough, a pause) carry nothing to merge.
	return slices.DeleteFunc(segments, func(s Segment) bool {
		return strings.TrimSpace(s.Text) == ""
	}), nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json".
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// secondsToTimestamp converts a provider's float start time to [MM:SS].
func secondsToTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	return transcript.FormatTimestamp(time.Duration(sec * float64(time.Second)))
}
