package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatched labels requests that reached no route.
const unmatched = "unmatched"

// Metrics owns the collectors and the registry they are registered with.
// It implements subscription.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpInProgress    *prometheus.GaugeVec
	webhookEvents     *prometheus.CounterVec
	metadataSync      *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "endpoint"}),
		httpInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Number of HTTP requests being served",
		}, []string{"method", "endpoint"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Webhook deliveries by provider, event type and final lifecycle state",
		}, []string{"provider", "type", "outcome"}),
		metadataSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_metadata_sync_total",
			Help: "Identity-provider metadata writes by outcome",
		}, []string{"outcome"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_reconcile_duration_seconds",
			Help:    "Time spent reconciling one event",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.httpInProgress,
		m.webhookEvents,
		m.metadataSync,
		m.reconcileDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count, latency and in-flight requests.
// In-flight requests are labeled with the pattern matched so far, which for
// mounted sub-routers is the mount pattern; completed requests carry the
// full pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inProgress := m.httpInProgress.WithLabelValues(r.Method, routePattern(r))
		inProgress.Inc()
		defer inProgress.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := routePattern(r)
		m.httpRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) WebhookEvent(provider, eventType, outcome string) {
	m.webhookEvents.WithLabelValues(provider, eventType, outcome).Inc()
}

func (m *Metrics) MetadataSync(outcome string) {
	m.metadataSync.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconcileDuration(kind string, d time.Duration) {
	m.reconcileDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatched
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return unmatched
}
