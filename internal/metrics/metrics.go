// Package metrics owns the service's Prometheus collectors.
//
// Collectors live on a private registry so tests can build as many Metrics
// values as they like without colliding on the default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repo_analyser"

type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	analysisRuns     *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	blobFetches      *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	syncedRepos      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"method", "route"}),
		analysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Repository analysis runs by outcome kind.",
		}, []string{"outcome"}),
		analysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "run_duration_seconds",
			Help:      "Duration of repository analysis runs.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"outcome"}),
		blobFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "blob_fetches_total",
			Help:      "Source file fetches by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook events by event type and status.",
		}, []string{"event", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Analysis tasks waiting for a worker.",
		}),
		syncedRepos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "repositories_total",
			Help:      "Repositories upserted by sync.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.analysisRuns,
		m.analysisDuration,
		m.blobFetches,
		m.webhookEvents,
		m.queueDepth,
		m.syncedRepos,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight requests. Routes
// are labelled with the chi pattern, so /repositories/{id} stays one series.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// The recorders below accept a nil receiver so services can run without
// metrics in tests and one-shot commands.

func (m *Metrics) RecordAnalysis(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(outcome).Inc()
	m.analysisDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordBlob(result string) {
	if m == nil {
		return
	}
	m.blobFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordWebhook(event, status string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.webhookEvents.WithLabelValues(event, status).Inc()
}

func (m *Metrics) QueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(delta)
}

func (m *Metrics) RecordSync(n int) {
	if m == nil {
		return
	}
	m.syncedRepos.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
