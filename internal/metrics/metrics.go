// Package metrics holds the Prometheus collectors shared by the gateway and
// the job runners. Collectors live on a private registry so tests can build
// as many instances as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ytplayer"

// Metrics is the set of collectors exported on /metrics
type Metrics struct {
	registry *prometheus.Registry

	ActiveProcesses *prometheus.GaugeVec
	ProcessesTotal  *prometheus.CounterVec
	JobsStarted     *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	ProbeCacheHits  prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveProcesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_processes",
			Help:      "External engine processes currently running, by kind.",
		}, []string{"kind"}),
		ProcessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_total",
			Help:      "External engine processes spawned, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs created, by type.",
		}, []string{"type"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal status, by type and status.",
		}, []string{"type", "status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_queue_depth",
			Help:      "Downloads waiting behind the in-flight one.",
		}),
		ProbeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_cache_hits_total",
			Help:      "Metadata requests answered from the probe cache.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveProcesses,
		m.ProcessesTotal,
		m.JobsStarted,
		m.JobsFinished,
		m.QueueDepth,
		m.ProbeCacheHits,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackProcess marks one process of kind as running and returns the func
// that records its outcome and releases the gauge
func (m *Metrics) TrackProcess(kind string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	gauge := m.ActiveProcesses.WithLabelValues(kind)
	gauge.Inc()
	return func(outcome string) {
		gauge.Dec()
		m.ProcessesTotal.WithLabelValues(kind, outcome).Inc()
	}
}
