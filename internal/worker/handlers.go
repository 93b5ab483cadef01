package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/mq"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/telemetry"
)

// WebhookPublisher — внешний вызов при срабатывании job. Реализация — WebhookClient.
type WebhookPublisher interface {
	Publish(ctx context.Context, id domain.JobID, payload domain.JobPayload) error
}

// handleJob обрабатывает сработавший job.
//
// nil означает ack (в том числе для устаревших job'ов),
// ошибка — неудачная попытка, брокер применит retry.
func (w *Worker) handleJob(ctx context.Context, job *domain.Job) error {
	logger := telemetry.WithJob(w.logger, job.ID)

	// 1. Запись должна существовать, быть pending и ждать именно это поколение
	rec, err := w.store.GetByID(ctx, job.ID.RecordID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Info("record deleted, dropping job")
			telemetry.WebhookCalls.WithLabelValues(telemetry.ResultStale).Inc()
			return nil
		}
		return fmt.Errorf("load record: %w", err)
	}

	if !rec.IsPending() {
		logger.Info("record is not pending, dropping job", "status", rec.Status)
		telemetry.WebhookCalls.WithLabelValues(telemetry.ResultStale).Inc()
		return nil
	}

	if rec.JobGeneration != job.ID.Generation {
		logger.Info("job superseded by reschedule, dropping",
			"record_generation", rec.JobGeneration,
		)
		telemetry.WebhookCalls.WithLabelValues(telemetry.ResultStale).Inc()
		return nil
	}

	// 2. Вызов webhook
	start := time.Now()
	err = w.webhook.Publish(ctx, job.ID, job.Payload)
	telemetry.WebhookDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.WebhookCalls.WithLabelValues(telemetry.ResultFailure).Inc()
		return err
	}
	telemetry.WebhookCalls.WithLabelValues(telemetry.ResultSuccess).Inc()

	// 3. Запись → fired. Ошибка БД возвращает job в retry:
	// повторный вызов webhook идёт с тем же Idempotency-Key.
	firedAt := w.now().UTC()
	if err := w.store.MarkFired(ctx, rec.ID, firedAt); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrNotFound) {
			logger.Warn("record changed while publishing, fire proceeds", "error", err)
			return nil
		}
		return fmt.Errorf("mark record fired: %w", err)
	}

	logger.Info("post published",
		"attempt", job.Attempts,
		"scheduled_at", rec.ScheduledAt,
		"lag", firedAt.Sub(rec.ScheduledAt),
	)

	// 4. Событие
	if w.events != nil {
		payload := mq.PostPublishedPayload{
			RecordID:    rec.ID,
			JobID:       job.ID.String(),
			UserID:      rec.OwningUserID,
			AccountID:   rec.TargetAccountID,
			ScheduledAt: rec.ScheduledAt,
			FiredAt:     firedAt,
			Attempt:     job.Attempts,
		}
		if err := w.events.PublishPostPublished(ctx, payload); err != nil {
			logger.Warn("failed to publish post.published", "error", err)
		}
	}

	return nil
}

// handleDead вызывается, когда job исчерпал попытки. Запись остаётся pending.
func (w *Worker) handleDead(ctx context.Context, job *domain.Job, reason string) {
	telemetry.JobsDead.Inc()

	telemetry.WithJob(w.logger, job.ID).Error("job parked as dead, record stays pending",
		"attempts", job.Attempts,
		"reason", reason,
	)

	if w.events == nil {
		return
	}

	payload := mq.JobDeadPayload{
		RecordID:  job.ID.RecordID,
		JobID:     job.ID.String(),
		UserID:    job.Payload.UserID,
		AccountID: job.Payload.AccountID,
		Attempts:  job.Attempts,
		LastError: reason,
	}
	if err := w.events.PublishJobDead(ctx, payload); err != nil {
		w.logger.Warn("failed to publish job.dead", "job_id", job.ID.String(), "error", err)
	}
}
