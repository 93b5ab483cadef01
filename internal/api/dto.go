package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/scheduler"
)

// Record DTOs

// CreateRecordRequest — запрос на создание записи.
type CreateRecordRequest struct {
	OwningUserID    string                   `json:"owning_user_id"`
	TargetAccountID string                   `json:"target_account_id"`
	ScheduledAt     time.Time                `json:"scheduled_at"`
	Content         domain.ContentDescriptor `json:"content"`
	Recurrence      bool                     `json:"recurrence"`
}

// ToInput конвертирует запрос во входные данные Scheduler.
func (r CreateRecordRequest) ToInput() scheduler.CreateInput {
	return scheduler.CreateInput{
		OwningUserID:    r.OwningUserID,
		TargetAccountID: r.TargetAccountID,
		ScheduledAt:     r.ScheduledAt,
		Content:         r.Content,
		Recurrence:      r.Recurrence,
	}
}

// RescheduleRequest — запрос на перенос записи.
// scheduled_at обязателен, остальные поля меняются, только если переданы.
type RescheduleRequest struct {
	ScheduledAt     *time.Time                `json:"scheduled_at"`
	TargetAccountID *string                   `json:"target_account_id,omitempty"`
	Content         *domain.ContentDescriptor `json:"content,omitempty"`
	Recurrence      *bool                     `json:"recurrence,omitempty"`
}

// ToInput конвертирует запрос во входные данные Scheduler.
func (r RescheduleRequest) ToInput() scheduler.RescheduleInput {
	return scheduler.RescheduleInput{
		ScheduledAt:     r.ScheduledAt,
		TargetAccountID: r.TargetAccountID,
		Content:         r.Content,
		Recurrence:      r.Recurrence,
	}
}

// RecordResponse — ответ с записью.
type RecordResponse struct {
	ID              uuid.UUID                `json:"id"`
	OwningUserID    string                   `json:"owning_user_id"`
	TargetAccountID string                   `json:"target_account_id"`
	ScheduledAt     time.Time                `json:"scheduled_at"`
	Content         domain.ContentDescriptor `json:"content"`
	Recurrence      bool                     `json:"recurrence"`
	Status          domain.RecordStatus      `json:"status"`
	JobGeneration   int64                    `json:"job_generation"`
	FiredAt         *time.Time               `json:"fired_at,omitempty"`
	CancelledAt     *time.Time               `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`

	// LiveJobs заполняется только в GET /records/{id}.
	LiveJobs []string `json:"live_jobs,omitempty"`
}

// RecordFromDomain конвертирует domain.ScheduleRecord в RecordResponse.
func RecordFromDomain(r *domain.ScheduleRecord) RecordResponse {
	return RecordResponse{
		ID:              r.ID,
		OwningUserID:    r.OwningUserID,
		TargetAccountID: r.TargetAccountID,
		ScheduledAt:     r.ScheduledAt,
		Content:         r.Content,
		Recurrence:      r.Recurrence,
		Status:          r.Status,
		JobGeneration:   r.JobGeneration,
		FiredAt:         r.FiredAt,
		CancelledAt:     r.CancelledAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// Queue DTOs

// JobResponse — ответ с job'ом брокера.
type JobResponse struct {
	ID          string          `json:"id"`
	RecordID    uuid.UUID       `json:"record_id"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	State       domain.JobState `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j *domain.Job) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		RecordID:    j.ID.RecordID,
		RunAt:       j.RunAt,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		State:       j.State,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
	}
}

// QueueStatsResponse — размеры очередей брокера.
type QueueStatsResponse struct {
	Delayed int64 `json:"delayed"`
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
	Live    int64 `json:"live"`
}

// QueueStatsFromStats конвертирует queue.Stats в QueueStatsResponse.
func QueueStatsFromStats(s queue.Stats) QueueStatsResponse {
	return QueueStatsResponse{
		Delayed: s.Delayed,
		Waiting: s.Waiting,
		Active:  s.Active,
		Dead:    s.Dead,
		Live:    s.Live(),
	}
}

// Ops DTOs

// SweepResponse — итог ручного sweep.
type SweepResponse struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// SweepFromResult конвертирует scheduler.ReconcileResult в SweepResponse.
func SweepFromResult(r scheduler.ReconcileResult) SweepResponse {
	return SweepResponse{
		Scanned:  r.Scanned,
		Enqueued: r.Enqueued,
		Skipped:  r.Skipped,
		Failed:   r.Failed,
	}
}
