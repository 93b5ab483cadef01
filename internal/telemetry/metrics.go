package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Источники постановки job в очередь (label "trigger").
const (
	TriggerAPI      = "api"
	TriggerRecovery = "recovery"
	TriggerSweep    = "sweep"
)

// Результаты вызова webhook (label "result").
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultStale   = "stale"
)

var (
	// JobsEnqueued — сколько job поставлено в брокер.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_jobs_enqueued_total",
		Help: "Jobs enqueued into the broker, by trigger.",
	}, []string{"trigger"})

	// JobsCancelled — сколько job удалено из брокера.
	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_jobs_cancelled_total",
		Help: "Pending jobs removed from the broker.",
	})

	// WebhookCalls — обработанные job'ы по результату.
	WebhookCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_webhook_calls_total",
		Help: "Fired jobs handled by the worker, by result.",
	}, []string{"result"})

	// WebhookDuration — длительность вызова webhook.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postflow_webhook_duration_seconds",
		Help:    "Publish webhook call latency.",
		Buckets: prometheus.DefBuckets,
	})

	// JobsDead — job'ы, исчерпавшие попытки.
	JobsDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_jobs_dead_total",
		Help: "Jobs parked as dead after exhausting attempts.",
	})

	// ReconcileRuns — запуски Recovery и Sweep.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_reconcile_runs_total",
		Help: "Recovery and sweep passes, by trigger and outcome.",
	}, []string{"trigger", "outcome"})
)
