// internal/telemetry/metrics.go
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished executions by derived status.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_executions_total",
		Help: "Total finished executions by status",
	}, []string{"status"})

	// ExecutionDuration tracks wall clock time from graph creation to persist.
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_execution_duration_seconds",
		Help:    "Execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"status"})

	// TasksTotal counts task completions by handler type and outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tasks_total",
		Help: "Total executed tasks by type and status",
	}, []string{"task_type", "status"})

	// TaskDuration tracks individual handler latency.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_task_duration_seconds",
		Help:    "Task handler duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
	}, []string{"task_type"})

	// EnqueuedTotal counts execution requests published to the queue.
	EnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_executions_enqueued_total",
		Help: "Total execution requests published to the queue",
	})

	// ActiveExecutions gauges executions currently held by this runner.
	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_active_executions",
		Help: "Executions currently being processed",
	})

	// DroppedMessages counts queue messages that could not be decoded.
	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_dropped_messages_total",
		Help: "Queue messages dropped because they could not be decoded",
	})

	// PollCycles counts ready-task poll iterations across all executions.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_ready_poll_cycles_total",
		Help: "Ready-task poll loop iterations across all executions",
	})
)
