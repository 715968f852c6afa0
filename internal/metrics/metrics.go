// Package metrics exposes prometheus metrics of the development backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tuanbt/vickyboard/internal/task"
)

// Metrics contains all the metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksCreated   prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	streamClients  *prometheus.GaugeVec
	requestCounter *prometheus.CounterVec
	responseTime   *prometheus.HistogramVec
}

// New creates the metrics on their own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vicky_tasks_created_total",
			Help: "Total number of created tasks.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicky_tasks_finished_total",
			Help: "Total number of finished tasks by result.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicky_task_duration_seconds",
			Help:    "Histogram of task run time.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"result"}),
		streamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vicky_stream_clients",
			Help: "Number of connected event stream clients.",
		}, []string{"stream"}),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vicky_http_requests_total",
			Help: "Total number of API requests.",
		}, []string{"route", "method", "code"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vicky_http_response_seconds",
			Help:    "Histogram of API response time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(m)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Describe implements the method in prometheus Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.tasksCreated.Describe(ch)
	m.tasksFinished.Describe(ch)
	m.taskDuration.Describe(ch)
	m.streamClients.Describe(ch)
	m.requestCounter.Describe(ch)
	m.responseTime.Describe(ch)
}

// Collect implements the method in prometheus Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.tasksCreated.Collect(ch)
	m.tasksFinished.Collect(ch)
	m.taskDuration.Collect(ch)
	m.streamClients.Collect(ch)
	m.requestCounter.Collect(ch)
	m.responseTime.Collect(ch)
}

// TaskCreated counts a new task.
func (m *Metrics) TaskCreated() {
	if m == nil {
		return
	}
	m.tasksCreated.Inc()
}

// TaskFinished records the result of a task and how long it ran.
func (m *Metrics) TaskFinished(result task.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(string(result)).Inc()
	m.taskDuration.WithLabelValues(string(result)).Observe(elapsed.Seconds())
}

// StreamOpened counts a connected stream client until the returned function runs.
func (m *Metrics) StreamOpened(stream string) func() {
	if m == nil {
		return func() {}
	}
	g := m.streamClients.WithLabelValues(stream)
	g.Inc()
	return g.Dec
}

// ObserveRequest publishes API request stats.
func (m *Metrics) ObserveRequest(route, method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(route, method, code).Inc()
	m.responseTime.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
