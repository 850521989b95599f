// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline and its collaborators.
//
// Metrics Categories:
//   - Pipeline stages: duration histograms per stage and outcome
//   - Inference: classifier and detector calls, model-server breaker state
//   - Caching: prediction cache hits and misses
//   - Artifacts: files written or reused
//   - Verdicts: final outcomes per analysis purpose
//   - HTTP: API request counts and latency
//   - Archive: similarity index writes and lookups
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageDuration tracks how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmi_stage_duration_seconds",
			Help:    "Duration of analysis pipeline stages in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "status"},
	)

	// InferenceCalls counts calls to the model server per model and outcome.
	InferenceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmi_inference_calls_total",
			Help: "Total number of model server calls",
		},
		[]string{"model", "operation", "outcome"},
	)

	// PredictionCacheLookups counts prediction cache hits and misses.
	PredictionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmi_prediction_cache_lookups_total",
			Help: "Total number of prediction cache lookups",
		},
		[]string{"result"},
	)

	// ArtifactWrites counts artifacts written versus reused from disk.
	ArtifactWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmi_artifact_writes_total",
			Help: "Total number of artifact write attempts",
		},
		[]string{"kind", "result"},
	)

	// Verdicts counts final verdicts per analysis purpose.
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmi_verdicts_total",
			Help: "Total number of analysis verdicts",
		},
		[]string{"purpose", "verdict"},
	)

	// BreakerState reports the model-server circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dmi_model_server_breaker_state",
			Help: "Model server circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTPRequestDuration tracks API latency per route and status code.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmi_http_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"method", "route", "status"},
	)

	// ArchiveOperations counts similarity index writes and searches.
	ArchiveOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmi_archive_operations_total",
			Help: "Total number of submission archive operations",
		},
		[]string{"operation", "outcome"},
	)
)

// ObserveStage records a stage duration.
func ObserveStage(stage string, err error, d time.Duration) {
	StageDuration.WithLabelValues(stage, outcome(err)).Observe(d.Seconds())
}

// RecordInference records one model server call.
func RecordInference(model, operation string, err error) {
	InferenceCalls.WithLabelValues(model, operation, outcome(err)).Inc()
}

// RecordCacheLookup records a prediction cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		PredictionCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	PredictionCacheLookups.WithLabelValues("miss").Inc()
}

// RecordArtifact records whether an artifact was created or already present.
func RecordArtifact(kind string, created bool) {
	if created {
		ArtifactWrites.WithLabelValues(kind, "created").Inc()
		return
	}
	ArtifactWrites.WithLabelValues(kind, "reused").Inc()
}

// RecordVerdict records a final verdict.
func RecordVerdict(purpose, verdict string) {
	Verdicts.WithLabelValues(purpose, verdict).Inc()
}

// SetBreakerState publishes the numeric breaker state.
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordArchive records one archive index operation.
func RecordArchive(operation string, err error) {
	ArchiveOperations.WithLabelValues(operation, outcome(err)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
