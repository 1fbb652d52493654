package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskloom_exchanges_total",
			Help: "Total chat exchanges by outcome",
		},
		[]string{"outcome"},
	)

	EngineLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "taskloom_engine_latency_seconds",
			Help: "Reasoning engine call latency in seconds",
		},
	)

	ToolDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskloom_tool_dispatches_total",
			Help: "Tool dispatches by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "taskloom_tool_dispatch_seconds",
			Help: "Tool dispatch duration in seconds, retries included",
		},
		[]string{"tool"},
	)

	DispatchAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskloom_tool_dispatch_attempts",
			Help:    "Attempts used per dispatch",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskloom_validation_rejections_total",
			Help: "Tool call rejections by violated rule",
		},
		[]string{"rule"},
	)

	HistoryDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskloom_history_duplicates_removed_total",
			Help: "Duplicate turns removed during context reconstruction",
		},
	)

	HistoryTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskloom_history_truncations_total",
			Help: "Reconstructions that had to drop turns for the token budget",
		},
	)

	DetachedDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskloom_detached_dispatches",
			Help: "Dispatches finishing after their request was cancelled",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskloom_http_requests_total",
			Help: "HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "taskloom_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	RecurringSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskloom_recurring_tasks_spawned_total",
			Help: "Follow-up tasks created by the recurrence sweep",
		},
	)

	SchedulerSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskloom_scheduler_sweeps_total",
			Help: "Recurrence sweep runs by result",
		},
		[]string{"result"},
	)
)
