package pool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "solverd"
	poolSubsystem    = "pool"
)

// Metrics holds the pool's prometheus collectors. All pools registered on
// the same Registerer share collectors and are told apart by the "pool" label.
type Metrics struct {
	// TasksTotal counts finished tasks.
	// Labels: pool, status (sat, unsat, unknown, error)
	TasksTotal *prometheus.CounterVec

	// TaskDurationSeconds measures dequeue-to-result time.
	// Labels: pool, status
	TaskDurationSeconds *prometheus.HistogramVec

	// QueueWaitSeconds measures how long tasks sat in the queue.
	// Labels: pool
	QueueWaitSeconds *prometheus.HistogramVec

	// QueueDepth is the number of tasks waiting for a worker.
	// Labels: pool
	QueueDepth *prometheus.GaugeVec

	// BusyWorkers is the number of workers running a task.
	// Labels: pool
	BusyWorkers *prometheus.GaugeVec

	// SpawnsTotal counts solver launches.
	// Labels: pool, outcome (ok, error), reason (startup, respawn)
	SpawnsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TasksTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "tasks_total",
			Help:      "Total number of finished solver tasks by status",
		}, []string{"pool", "status"})),
		TaskDurationSeconds: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Time from dequeue to result in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"pool", "status"})),
		QueueWaitSeconds: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "queue_wait_seconds",
			Help:      "Time tasks spent waiting for a worker in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"pool"})),
		QueueDepth: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker",
		}, []string{"pool"})),
		BusyWorkers: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "busy_workers",
			Help:      "Number of workers currently running a task",
		}, []string{"pool"})),
		SpawnsTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: poolSubsystem,
			Name:      "spawns_total",
			Help:      "Total number of solver process launches by outcome",
		}, []string{"pool", "outcome", "reason"})),
	}
}

// register returns the collector already registered under the same
// descriptor, if any, so several pools can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) recordSpawn(pool, reason string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SpawnsTotal.WithLabelValues(pool, outcome, reason).Inc()
}
