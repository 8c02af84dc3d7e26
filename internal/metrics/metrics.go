// Package metrics holds devlauncher's Prometheus collectors. A nil
// *Metrics is valid and records nothing, so engine components can be
// built without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devlauncher"

var durationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Metrics groups every collector the engine updates.
type Metrics struct {
	registry *prometheus.Registry

	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec
	taskOutcomes      *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	portAllocations   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Lifecycle operations by kind and outcome",
		}, []string{"operation", "outcome"}),
		lifecycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Duration of compose up/down operations",
			Buckets:   durationBuckets,
		}, []string{"operation"}),
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Finished tasks by type and final status",
		}, []string{"type", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task execution time",
			Buckets:   durationBuckets,
		}, []string{"type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queued",
			Help:      "Tasks waiting in per-project queues",
		}, []string{"project"}),
		portAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "allocations_total",
			Help:      "Port allocation batches by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lifecycleOps,
		m.lifecycleDuration,
		m.taskOutcomes,
		m.taskDuration,
		m.queueDepth,
		m.portAllocations,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc adds a gauge computed on scrape, e.g. reserved ports.
func (m *Metrics) RegisterGaugeFunc(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// LifecycleOp counts a lifecycle operation outcome (e.g. "start", "ok").
func (m *Metrics) LifecycleOp(op, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(op, outcome).Inc()
}

// LifecycleDuration records how long an up/down took.
func (m *Metrics) LifecycleDuration(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.lifecycleDuration.WithLabelValues(op).Observe(d.Seconds())
}

// TaskFinished records a task reaching a terminal status.
func (m *Metrics) TaskFinished(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(taskType, status).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// QueueDepth sets the number of queued tasks for a project.
func (m *Metrics) QueueDepth(projectID string, n int) {
	if m == nil {
		return
	}
	if n == 0 {
		m.queueDepth.DeleteLabelValues(projectID)
		return
	}
	m.queueDepth.WithLabelValues(projectID).Set(float64(n))
}

// PortAllocation counts an allocation batch outcome ("ok", "exhausted").
func (m *Metrics) PortAllocation(outcome string) {
	if m == nil {
		return
	}
	m.portAllocations.WithLabelValues(outcome).Inc()
}

// HTTPRequest counts a served request.
func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
