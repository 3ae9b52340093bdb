package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alnah/chunkscribe/internal/pipeline"
	"github.com/alnah/chunkscribe/internal/transcript"
)

// stdoutPath makes the transcript go to stdout instead of a file.
const stdoutPath = "-"

// formatExtensions lists the extensions that match each output format.
var formatExtensions = map[transcript.Format][]string{
	transcript.FormatText:     {".txt", ".text"},
	transcript.FormatMarkdown: {".md", ".markdown"},
	transcript.FormatJSON:     {".json"},
	transcript.FormatYAML:     {".yaml", ".yml"},
}

// warnExtensionMismatch writes a warning to w if path has an extension that
// does not match f. The output is written in f regardless.
func warnExtensionMismatch(w io.Writer, path string, f transcript.Format) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || path == stdoutPath {
		return
	}
	for _, ok := range formatExtensions[f] {
		if ext == ok {
			return
		}
	}
	_, _ = fmt.Fprintf(w, "Warning: output is %s regardless of %s extension\n", f, ext)
}

// progressPrinter returns a progress callback that writes one status line
// per event to w. Failures are reported by the caller.
func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	return func(p pipeline.Progress) {
		if p.Phase == pipeline.Failed {
			return
		}
		_, _ = fmt.Fprintf(w, "[%3d%%] %s\n", p.Percent, p.Message)
	}
}

// renderTranscript renders segments in format f.
func renderTranscript(f transcript.Format, segments []transcript.Segment) (string, error) {
	var buf bytes.Buffer
	if err := transcript.Render(&buf, f, segments); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeOutput writes content to path, or to stdout when path is "-".
func writeOutput(stdout io.Writer, path, content string) error {
	if path == stdoutPath {
		if _, err := io.WriteString(stdout, content); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	return writeFileAtomic(path, content)
}

// writeFileAtomic writes content to path atomically.
// It fails if the file already exists (O_EXCL), preventing accidental overwrites.
// On write failure, the partial file is removed.
func writeFileAtomic(path, content string) error {
	// #nosec G302 G304 -- user-specified output file with standard permissions
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("output file already exists: %s: %w", path, ErrOutputExists)
		}
		return fmt.Errorf("cannot create output file: %w", err)
	}

	writeErr := func() error {
		defer func() { _ = f.Close() }()
		if _, err := f.WriteString(content); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}()

	if writeErr != nil {
		_ = os.Remove(path)
		return writeErr
	}

	return nil
}
