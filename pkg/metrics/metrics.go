package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_tasks_executed_total",
		Help: "The total number of settlement attempts by outcome",
	}, []string{"outcome"})

	ExecutionDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "executor_execution_delay_seconds",
		Help:    "Delay between a task's execute_at and its settlement",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s up to ~68m
	}, []string{"mode"})

	GasUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_gas_used",
		Help:    "Gas used per settlement transaction",
		Buckets: prometheus.ExponentialBuckets(100000, 2, 12),
	})

	DueTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_due_tasks",
		Help: "The number of due pending tasks found in the last scan",
	})

	ClassifiedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_errors_total",
		Help: "Total number of settlement errors by classified type",
	}, []string{"error_type"})

	FatalAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_fatal_alerts_total",
		Help: "Security-sensitive failures requiring operator correction",
	}, []string{"error_type"})

	RetriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_retries_scheduled_total",
		Help: "The total number of retries scheduled by error type",
	}, []string{"error_type"})

	RetriesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_retries_executed_total",
		Help: "Number of retries whose timer fired and was dispatched",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_retry_queue_size",
		Help: "Current number of tasks with a pending retry timer",
	})

	SkippedBreakerOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "executor_skipped_breaker_open_total",
		Help: "Scan ticks skipped because the ledger RPC circuit breaker was open",
	})

	ClockDriftMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_ledger_clock_drift_ms",
		Help: "Last observed drift between the ledger clock and local time",
	})

	ReferenceGasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_reference_gas_price",
		Help: "Ledger reference price per gas unit at startup",
	})
)
