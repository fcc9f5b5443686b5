// Package metrics exposes prometheus metrics for import and export runs and
// the HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/activism/internal/core"
)

const namespace = "activism"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	itemsProcessed     *prometheus.CounterVec
	runsFinished       *prometheus.CounterVec
	runsActive         prometheus.Gauge
	validationFailures *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors, including the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		itemsProcessed: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_processed_total",
			Help:      "Items processed by batch runs, by parser and outcome.",
		}, []string{"parser", "outcome"}),
		runsFinished: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_finished_total",
			Help:      "Batch runs that processed their last item.",
		}, []string{"parser"}),
		runsActive: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_active",
			Help:      "In-process batch runs currently executing.",
		}),
		validationFailures: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "validation_failures_total",
			Help:      "Rejected import sources, by parser and error kind.",
		}, []string{"parser", "kind"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ItemProcessed implements batch.Observer.
func (m *Metrics) ItemProcessed(parser string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.itemsProcessed.WithLabelValues(parser, outcome).Inc()
}

// RunFinished implements batch.Observer.
func (m *Metrics) RunFinished(parser string, _, _ int) {
	m.runsFinished.WithLabelValues(parser).Inc()
}

// RunStarted increments the active run gauge; the returned func decrements it.
func (m *Metrics) RunStarted() func() {
	m.runsActive.Inc()
	return m.runsActive.Dec
}

// ValidationFailed records a rejected import source.
func (m *Metrics) ValidationFailed(parser string, err error) {
	kind := "other"
	var pe *core.ParserError
	if errors.As(err, &pe) {
		kind = pe.Kind.String()
	}
	m.validationFailures.WithLabelValues(parser, kind).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
