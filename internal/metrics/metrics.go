package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one process
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobsLaunchedTotal  prometheus.Counter
	JobsCompletedTotal *prometheus.CounterVec
	JobsEvictedTotal   prometheus.Counter
	JobsActive         prometheus.Gauge
	JobDuration        *prometheus.HistogramVec

	// Worker metrics
	WorkersTotal                prometheus.Counter
	WorkerStateTransitionsTotal *prometheus.CounterVec

	// Shutdown metrics
	InterruptsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		JobsLaunchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jobs_launched_total",
				Help: "Total number of jobs launched",
			},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobs_completed_total",
				Help: "Total number of jobs completed by outcome",
			},
			[]string{"outcome"},
		),
		JobsEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jobs_evicted_total",
				Help: "Total number of inactive jobs removed by retention",
			},
		),
		JobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobs_active",
				Help: "Number of jobs currently running or queued",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_duration_seconds",
				Help:    "Duration of jobs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		WorkersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workers_total",
				Help: "Total number of workers built",
			},
		),
		WorkerStateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_state_transitions_total",
				Help: "Total number of worker state transitions by target state",
			},
			[]string{"state"},
		),

		InterruptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interrupts_total",
				Help: "Total number of interrupts by resulting action",
			},
			[]string{"action"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.JobsLaunchedTotal)
	m.registry.MustRegister(m.JobsCompletedTotal)
	m.registry.MustRegister(m.JobsEvictedTotal)
	m.registry.MustRegister(m.JobsActive)
	m.registry.MustRegister(m.JobDuration)

	m.registry.MustRegister(m.WorkersTotal)
	m.registry.MustRegister(m.WorkerStateTransitionsTotal)

	m.registry.MustRegister(m.InterruptsTotal)
}

// JobLaunched records a launch
func (m *Metrics) JobLaunched() {
	m.JobsLaunchedTotal.Inc()
	m.JobsActive.Inc()
}

// JobCompleted records a completion with its outcome
func (m *Metrics) JobCompleted(outcome string, duration time.Duration) {
	m.JobsActive.Dec()
	m.JobsCompletedTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// JobsEvicted records retention evictions
func (m *Metrics) JobsEvicted(n int) {
	m.JobsEvictedTotal.Add(float64(n))
}

// WorkerBuilt records a new worker
func (m *Metrics) WorkerBuilt() {
	m.WorkersTotal.Inc()
}

// WorkerStateChanged records a state transition
func (m *Metrics) WorkerStateChanged(state string) {
	m.WorkerStateTransitionsTotal.WithLabelValues(state).Inc()
}

// Interrupt records an interrupt and the action it caused
func (m *Metrics) Interrupt(action string) {
	m.InterruptsTotal.WithLabelValues(action).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
