package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepExecutions counts finished step attempts by outcome. Result is one
	// of success, failed, skipped, or duplicate.
	stepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_executions_total",
			Help: "Total number of saga step executions by step and result",
		},
		[]string{"step", "result"},
	)

	// stepDuration observes wall time per step, retries included.
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Duration of saga step execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// stepRetries counts extra attempts after a transient step failure.
	stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_retries_total",
			Help: "Total number of saga step retry attempts",
		},
		[]string{"step"},
	)

	// sagasFinished counts sagas reaching a terminal status.
	sagasFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagas_finished_total",
			Help: "Total number of sagas reaching a terminal status",
		},
		[]string{"status"},
	)

	// compensationActions counts individual inverse actions by outcome.
	compensationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensation_actions_total",
			Help: "Total number of compensation actions by step and result",
		},
		[]string{"step", "result"},
	)
)
