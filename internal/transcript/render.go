package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an output layout for a transcript.
type Format string

// Supported output formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists the supported formats in display order.
var Formats = []Format{FormatText, FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat resolves a format name. "md", "txt" and "yml" are accepted aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text", "txt", "":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q (supported: text, markdown, json, yaml)", ErrUnknownFormat, name)
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	default:
		return ".txt"
	}
}

// Record is the serialized form of a Segment.
type Record struct {
	Timestamp    string  `json:"timestamp" yaml:"timestamp"`
	StartSeconds float64 `json:"start_seconds" yaml:"start_seconds"`
	Speaker      string  `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text         string  `json:"text" yaml:"text"`
	Chunk        int     `json:"chunk" yaml:"chunk"`
}

// Records converts segments to their serialized form.
func Records(segments []Segment) []Record {
	out := make([]Record, len(segments))
	for i, s := range segments {
		out[i] = Record{
			Timestamp:    s.Timestamp,
			StartSeconds: s.Offset.Seconds(),
			Speaker:      s.Speaker,
			Text:         s.Text,
			Chunk:        s.Chunk,
		}
	}
	return out
}

// Render writes segments to w in format f.
func Render(w io.Writer, f Format, segments []Segment) error {
	switch f {
	case FormatText:
		return renderText(w, segments)
	case FormatMarkdown:
		return renderMarkdown(w, segments)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Segments []Record `json:"segments"`
		}{Records(segments)})
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]Record{"segments": Records(segments)}); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Line formats one segment as "[MM:SS] Speaker: text".
func Line(s Segment) string {
	if s.Speaker == "" {
		return s.Timestamp + " " + s.Text
	}
	return s.Timestamp + " " + s.Speaker + ": " + s.Text
}

func renderText(w io.Writer, segments []Segment) error {
	bw := bufio.NewWriter(w)
	for _, s := range segments {
		if _, err := fmt.Fprintln(bw, Line(s)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// renderMarkdown groups consecutive utterances of the same speaker in a chunk.
func renderMarkdown(w io.Writer, segments []Segment) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Transcript")

	prevSpeaker, prevChunk := "", -1
	for _, s := range segments {
		if s.Speaker != prevSpeaker || s.Chunk != prevChunk {
			speaker := s.Speaker
			if speaker == "" {
				speaker = "Unknown speaker"
			}
			fmt.Fprintf(bw, "\n**%s**\n\n", speaker)
			prevSpeaker, prevChunk = s.Speaker, s.Chunk
		}
		fmt.Fprintf(bw, "- `%s` %s\n", s.Timestamp, s.Text)
	}
	return bw.Flush()
}
