// Package metrics instruments the gateway with Prometheus collectors: HTTP
// request counts/latency, stream lifecycle transitions, extraction job
// throughput, consumer attach/detach activity, and SFU control call
// outcomes.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps a dedicated Prometheus registry with the collectors the
// gateway records against. A dedicated registry (rather than the global
// prometheus.DefaultRegisterer) lets tests construct independent Recorders
// without colliding on collector registration.
type Recorder struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	streamEventsTotal *prometheus.CounterVec
	activeStreams     prometheus.Gauge

	extractionJobsTotal  *prometheus.CounterVec
	extractionJobsActive prometheus.Gauge

	consumerEventsTotal *prometheus.CounterVec
	activeConsumers     prometheus.Gauge

	sfuCallsTotal *prometheus.CounterVec
}

var defaultRecorder = New()

// New constructs a Recorder backed by a fresh prometheus.Registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitriver_http_requests_total",
			Help: "Total number of HTTP requests processed by the API.",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitriver_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		streamEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitriver_stream_events_total",
			Help: "Stream lifecycle transitions by event.",
		}, []string{"event"}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bitriver_active_streams",
			Help: "Current number of streams in the LIVE state.",
		}),

		extractionJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitriver_extraction_jobs_total",
			Help: "Extraction jobs processed by kind and outcome.",
		}, []string{"kind", "outcome"}),

		extractionJobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bitriver_extraction_jobs_active",
			Help: "Current number of extraction jobs in flight.",
		}),

		consumerEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitriver_consumer_events_total",
			Help: "Consumer lifecycle transitions by event.",
		}, []string{"event"}),

		activeConsumers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bitriver_active_consumers",
			Help: "Current number of consumers attached across all streams.",
		}),

		sfuCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitriver_sfu_calls_total",
			Help: "SFU control calls by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

// Default returns the singleton Recorder used by callers that don't carry
// their own (e.g. a zero-value server.Config.Metrics).
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records one HTTP request's status and latency.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": strings.ToUpper(method),
		"path":   normalizePath(path),
		"status": statusLabel(status),
	}
	r.httpRequestsTotal.With(labels).Inc()
	r.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// StreamStarted records a stream reaching LIVE.
func (r *Recorder) StreamStarted() {
	r.streamEventsTotal.WithLabelValues("start").Inc()
	r.activeStreams.Inc()
}

// StreamStopped records a stream leaving LIVE (STOPPED, ERROR, or CLOSED).
func (r *Recorder) StreamStopped() {
	r.streamEventsTotal.WithLabelValues("stop").Inc()
	r.activeStreams.Dec()
}

// ExtractionJobStarted records a snapshot/bookmark job beginning processing.
func (r *Recorder) ExtractionJobStarted(kind string) {
	r.extractionJobsActive.Inc()
}

// ExtractionJobFinished records a snapshot/bookmark job's terminal outcome
// ("completed", "failed" or "tombstoned").
func (r *Recorder) ExtractionJobFinished(kind, outcome string) {
	r.extractionJobsTotal.WithLabelValues(normalizeName(kind), normalizeName(outcome)).Inc()
	r.extractionJobsActive.Dec()
}

// ConsumerAttached records a consumer entering the registry.
func (r *Recorder) ConsumerAttached() {
	r.consumerEventsTotal.WithLabelValues("attach").Inc()
	r.activeConsumers.Inc()
}

// ConsumerClosed records a consumer leaving the registry (explicit close,
// TTL expiry, or parent stream teardown).
func (r *Recorder) ConsumerClosed(reason string) {
	r.consumerEventsTotal.WithLabelValues(normalizeName(reason)).Inc()
	r.activeConsumers.Dec()
}

// ObserveSFUCall records the outcome of one SFU control call.
func (r *Recorder) ObserveSFUCall(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.sfuCallsTotal.WithLabelValues(normalizeName(method), outcome).Inc()
}

// Handler exposes the Recorder's registry as a Prometheus scrape endpoint.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func statusLabel(status int) string {
	if status <= 0 {
		return "0"
	}
	return strconv.Itoa(status)
}
