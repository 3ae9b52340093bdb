// Package metrics exposes pipeline and HTTP metrics through a private
// Prometheus registry.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alnah/chunkscribe/internal/apierr"
	"github.com/alnah/chunkscribe/internal/audio"
	"github.com/alnah/chunkscribe/internal/pipeline"
)

const namespace = "chunkscribe"

// Compile-time interface compliance check.
var _ pipeline.Recorder = (*Metrics)(nil)

// Metrics contains all Prometheus metrics for chunkscribe.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	ActiveRuns   prometheus.Gauge

	// Chunk metrics
	ChunksTranscribed prometheus.Counter
	ChunkFailures     *prometheus.CounterVec
	ChunkDuration     prometheus.Histogram
	OracleLatency     prometheus.Histogram
	SegmentsMerged    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of pipeline runs started",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of pipeline runs finished, by final phase and error class",
		}, []string{"phase", "reason"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Current number of running pipelines",
		}),

		ChunksTranscribed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_transcribed_total",
			Help:      "Total number of chunks transcribed and merged",
		}),
		ChunkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Total number of chunks that failed",
		}, []string{"position"}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_audio_seconds",
			Help:      "Audio duration of transcribed chunks",
			Buckets:   prometheus.LinearBuckets(60, 60, 10), // 1 to 10 minutes
		}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_latency_seconds",
			Help:      "Time spent rendering and transcribing one chunk",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4 minutes
		}),
		SegmentsMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_merged_total",
			Help:      "Total number of transcript segments merged",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45 minutes
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile writes the registry to path for node_exporter's textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RunStarted implements pipeline.Recorder.
func (m *Metrics) RunStarted() {
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// ChunkDone implements pipeline.Recorder.
func (m *Metrics) ChunkDone(rng audio.ChunkRange, elapsed time.Duration, segments int) {
	m.ChunksTranscribed.Inc()
	m.ChunkDuration.Observe(rng.Duration().Seconds())
	m.OracleLatency.Observe(elapsed.Seconds())
	m.SegmentsMerged.Add(float64(segments))
}

// ChunkFailed implements pipeline.Recorder.
func (m *Metrics) ChunkFailed(rng audio.ChunkRange) {
	position := "later"
	if rng.Index == 0 {
		position = "first"
	}
	m.ChunkFailures.WithLabelValues(position).Inc()
}

// RunFinished implements pipeline.Recorder.
func (m *Metrics) RunFinished(phase pipeline.Phase, err error, elapsed time.Duration) {
	m.ActiveRuns.Dec()
	m.RunsFinished.WithLabelValues(phase.String(), Reason(err)).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// Reason classifies a run error into a low-cardinality label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, pipeline.ErrStopped):
		return "stopped"
	case errors.Is(err, audio.ErrInvalidChunkDuration):
		return "invalid_config"
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, audio.ErrCorruptAudio):
		return "corrupt_audio"
	case errors.Is(err, apierr.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, apierr.ErrRateLimit), errors.Is(err, apierr.ErrQuotaExceeded):
		return "rate_limit"
	case errors.Is(err, apierr.ErrAuthFailed):
		return "auth"
	case errors.Is(err, pipeline.ErrTransportFailure):
		return "transport"
	default:
		return "other"
	}
}
