// Package telemetry — логи и метрики сервисов Postflow.
//
// Логи: slog, JSON в stdout (LOG_FORMAT=text для разработки). Ключи
// в snake_case; job и запись всегда как job_id и record_id (WithJob).
//
// Метрики (promauto, отдаются на /metrics):
//   - postflow_jobs_enqueued_total{trigger}    — api, recovery, sweep
//   - postflow_jobs_cancelled_total
//   - postflow_webhook_calls_total{result}     — success, failure, stale
//   - postflow_webhook_duration_seconds
//   - postflow_jobs_dead_total
//   - postflow_reconcile_runs_total{trigger,outcome}
package telemetry
