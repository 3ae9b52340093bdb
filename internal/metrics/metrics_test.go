package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/metrics"
	"github.com/alnah/chunkscribe/internal/pipeline"
)

// Notes:
// - Each test builds its own Metrics; the registry is private so tests
//   can run in parallel without duplicate-registration panics.

func TestMetrics_Recorder(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.RunStarted()
	if got := testutil.ToFloat64(m.ActiveRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}

	m.ChunkDone(audio.ChunkRange{Index: 0, End: 10 * time.Minute}, 2*time.Second, 4)
	m.ChunkDone(audio.ChunkRange{Index: 1, Start: 10 * time.Minute, End: 12 * time.Minute}, time.Second, 3)
	m.ChunkFailed(audio.ChunkRange{Index: 2})
	m.RunFinished(pipeline.Failed, fmt.Errorf("%w: chunk 3/3: %w", pipeline.ErrTransportFailure, apierr.ErrServerError), time.Minute)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"runs started", testutil.ToFloat64(m.RunsStarted), 1},
		{"active runs", testutil.ToFloat64(m.ActiveRuns), 0},
		{"chunks", testutil.ToFloat64(m.ChunksTranscribed), 2},
		{"segments", testutil.ToFloat64(m.SegmentsMerged), 7},
		{"failures later", testutil.ToFloat64(m.ChunkFailures.WithLabelValues("later")), 1},
		{"finished failed/transport", testutil.ToFloat64(m.RunsFinished.WithLabelValues("failed", "transport")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{pipeline.ErrStopped, "stopped"},
		{audio.ErrInvalidChunkDuration, "invalid_config"},
		{fmt.Errorf("decode: %w", audio.ErrUnsupportedFormat), "unsupported_format"},
		{audio.ErrCorruptAudio, "corrupt_audio"},
		{fmt.Errorf("%w: %w", pipeline.ErrTransportFailure, apierr.ErrMalformedResponse), "malformed_response"},
		{fmt.Errorf("%w: %w", pipeline.ErrTransportFailure, apierr.ErrQuotaExceeded), "rate_limit"},
		{fmt.Errorf("%w: %w", pipeline.ErrTransportFailure, apierr.ErrAuthFailed), "auth"},
		{pipeline.ErrTransportFailure, "transport"},
		{context.Canceled, "other"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := metrics.Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveHTTP("POST", "/v1/transcriptions", 200, 3*time.Second)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`chunkscribe_http_requests_total{method="POST",route="/v1/transcriptions",status_code="200"} 1`,
		"chunkscribe_runs_started_total 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.RunStarted()
	m.RunFinished(pipeline.Completed, nil, time.Second)

	path := filepath.Join(t.TempDir(), "chunkscribe.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `chunkscribe_runs_finished_total{phase="completed",reason="none"} 1`) {
		t.Errorf("textfile missing run counter:\n%s", data)
	}
}
