// Package metrics holds the Prometheus collectors exported by kb.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "kb"

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	DocumentsIngested prometheus.Counter
	ChunksIngested    prometheus.Counter
	Searches          prometheus.Counter
	GraphBuilds       prometheus.Counter
	GraphFailures     *prometheus.CounterVec

	ExternalCalls    *prometheus.CounterVec
	ExternalDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		DocumentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested",
		}),
		ChunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_ingested_total",
			Help:      "Total number of chunks appended to the index",
		}),
		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "searches_total",
			Help:      "Total number of answered queries",
		}),
		GraphBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "graph_builds_total",
			Help:      "Total number of knowledge graph assemblies",
		}),
		GraphFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "graph_partial_failures_total",
			Help:      "Per-document failures recorded during graph assembly",
		}, []string{"stage"}),
		ExternalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "external_calls_total",
			Help:      "Calls to external model services",
		}, []string{"service", "op", "outcome"}),
		ExternalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "external_call_duration_seconds",
			Help:      "External call duration in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "op"}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.DocumentsIngested,
		m.ChunksIngested,
		m.Searches,
		m.GraphBuilds,
		m.GraphFailures,
		m.ExternalCalls,
		m.ExternalDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveExternal records one logical external call.
func (m *Metrics) ObserveExternal(service, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ExternalCalls.WithLabelValues(service, op, outcome).Inc()
	m.ExternalDuration.WithLabelValues(service, op).Observe(d.Seconds())
}

// AddIngest records one ingested document and its chunk count.
func (m *Metrics) AddIngest(chunks int) {
	if m == nil {
		return
	}
	m.DocumentsIngested.Inc()
	m.ChunksIngested.Add(float64(chunks))
}

// IncSearch records one answered query.
func (m *Metrics) IncSearch() {
	if m == nil {
		return
	}
	m.Searches.Inc()
}

// AddGraphBuild records one assembly and its per-stage failures.
func (m *Metrics) AddGraphBuild(failuresByStage map[string]int) {
	if m == nil {
		return
	}
	m.GraphBuilds.Inc()
	for stage, n := range failuresByStage {
		m.GraphFailures.WithLabelValues(stage).Add(float64(n))
	}
}
