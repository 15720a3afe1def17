package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cleanline/api/internal/domain"
)

const defaultNamespace = "cleanline"

// Registry owns the process metrics and exposes them for scraping.
type Registry struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	sessions      prometheus.Counter
	intents       *prometheus.CounterVec
	intentLatency *prometheus.HistogramVec
	stages        *prometheus.CounterVec
	orders        *prometheus.CounterVec
	orderTotal    *prometheus.HistogramVec
	secrets       *prometheus.CounterVec
	sweptSessions prometheus.Counter
}

// Option customises the Registry.
type Option func(*options)

type options struct {
	namespace      string
	runtimeMetrics bool
}

// WithNamespace overrides the metric name prefix.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(namespace); trimmed != "" {
			o.namespace = trimmed
		}
	}
}

// WithoutRuntimeMetrics skips the Go and process collectors.
func WithoutRuntimeMetrics() Option {
	return func(o *options) {
		o.runtimeMetrics = false
	}
}

// New builds a Registry with every collector registered.
func New(opts ...Option) *Registry {
	cfg := options{namespace: defaultNamespace, runtimeMetrics: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	ns := cfg.namespace

	r := &Registry{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "sessions_started_total",
			Help:      "Total number of wizard sessions started",
		}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "intents_total",
			Help:      "Wizard intents by outcome",
		}, []string{"intent", "outcome"}),
		intentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "intent_duration_seconds",
			Help:      "Wizard intent handling duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"intent"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "stage_entries_total",
			Help:      "Number of times each wizard stage was entered",
		}, []string{"stage"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "orders_completed_total",
			Help:      "Orders confirmed through the wizard",
		}, []string{"currency"}),
		orderTotal: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "order_total",
			Help:      "Final total of confirmed orders in major currency units",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"currency"}),
		secrets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "secrets",
			Name:      "resolutions_total",
			Help:      "Secret resolutions by answering source",
		}, []string{"source"}),
		sweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "wizard",
			Name:      "sessions_swept_total",
			Help:      "Idle in-memory sessions evicted by the sweeper",
		}),
	}

	r.registry.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.sessions,
		r.intents,
		r.intentLatency,
		r.stages,
		r.orders,
		r.orderTotal,
		r.secrets,
		r.sweptSessions,
	)
	if cfg.runtimeMetrics {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveRequest records one served HTTP request.
func (r *Registry) ObserveRequest(method, route string, status int, latency time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// SessionStarted counts a new wizard session.
func (r *Registry) SessionStarted() {
	r.sessions.Inc()
}

// IntentObserved records the outcome and latency of one wizard intent.
func (r *Registry) IntentObserved(intent, outcome string, duration time.Duration) {
	r.intents.WithLabelValues(intent, outcome).Inc()
	r.intentLatency.WithLabelValues(intent).Observe(duration.Seconds())
}

// StageEntered counts a stage entry.
func (r *Registry) StageEntered(stage domain.Stage) {
	r.stages.WithLabelValues(string(stage)).Inc()
}

// OrderCompleted counts a confirmed order and its final total.
func (r *Registry) OrderCompleted(currency string, total float64) {
	r.orders.WithLabelValues(currency).Inc()
	r.orderTotal.WithLabelValues(currency).Observe(total)
}

// SecretResolved counts a secret lookup by the source that answered it.
func (r *Registry) SecretResolved(source string, _ time.Duration) {
	r.secrets.WithLabelValues(source).Inc()
}

// SessionsSwept adds n evicted sessions.
func (r *Registry) SessionsSwept(n int) {
	if n > 0 {
		r.sweptSessions.Add(float64(n))
	}
}
