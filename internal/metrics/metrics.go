// Package metrics exposes Prometheus instrumentation for the supervisor
// and worker processes.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fcs"

// Metrics contains all Prometheus metrics for FCS.
type Metrics struct {
	// Counters
	TasksSubmitted   prometheus.Counter
	TasksDispatched  *prometheus.CounterVec
	TasksFinished    *prometheus.CounterVec
	ClaimAttempts    *prometheus.CounterVec
	DBRetries        prometheus.Counter

	// Gauges
	WorkersTotal  prometheus.Gauge
	QueueDepth    prometheus.Gauge
	InFlightTasks prometheus.Gauge
	CircuitState  prometheus.Gauge

	// Histograms
	TaskDuration   *prometheus.HistogramVec
	DispatchLagSec prometheus.Histogram
	DBCallSeconds  *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the singleton metrics instance, registering it with the
// default Prometheus registerer on first use.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
		defaultMetrics.Register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates a new Metrics instance.
func New() *Metrics {
	return &Metrics{
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks created via create_task.",
		}),
		TasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of successful assign_task calls, by worker.",
		}, []string{"worker_id"}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks reaching a terminal status.",
		}, []string{"status"}),
		ClaimAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_attempts_total",
			Help:      "Total number of begin_task CAS attempts, by outcome.",
		}, []string{"outcome"}), // "won" | "lost"
		DBRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_retries_total",
			Help:      "Total number of retried database gateway calls.",
		}),
		WorkersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_total",
			Help:      "Number of workers heard from within the liveness window.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_heap_depth",
			Help:      "Number of entries currently in the supervisor's schedule heap.",
		}),
		InFlightTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_tasks",
			Help:      "Number of tasks in dispatched or running state.",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_circuit_state",
			Help:      "Database circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time from claim to terminal status.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"status"}),
		DispatchLagSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_lag_seconds",
			Help:      "Time between a task becoming due and the supervisor dispatching it.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10},
		}),
		DBCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_call_seconds",
			Help:      "Latency of database gateway operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.TasksSubmitted,
		m.TasksDispatched,
		m.TasksFinished,
		m.ClaimAttempts,
		m.DBRetries,
		m.WorkersTotal,
		m.QueueDepth,
		m.InFlightTasks,
		m.CircuitState,
		m.TaskDuration,
		m.DispatchLagSec,
		m.DBCallSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CircuitStateValue mirrors gobreaker's three states as a gauge value.
type CircuitStateValue float64

const (
	CircuitStateClosed   CircuitStateValue = 0
	CircuitStateHalfOpen CircuitStateValue = 1
	CircuitStateOpen     CircuitStateValue = 2
)

// SetCircuitState updates the DB circuit breaker gauge.
func (m *Metrics) SetCircuitState(state CircuitStateValue) {
	m.CircuitState.Set(float64(state))
}
