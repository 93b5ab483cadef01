package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition — недопустимая смена статуса записи.
var ErrInvalidTransition = errors.New("invalid status transition")

// PostChannel — куда публикуется контент.
type PostChannel string

const (
	PostChannelPost  PostChannel = "post"
	PostChannelStory PostChannel = "story"
	PostChannelReel  PostChannel = "reel"
)

// IsValid проверяет, что канал известен.
func (c PostChannel) IsValid() bool {
	switch c {
	case PostChannelPost, PostChannelStory, PostChannelReel:
		return true
	default:
		return false
	}
}

// MediaRef — ссылка на медиафайл во внешнем хранилище.
type MediaRef struct {
	// URL — адрес файла.
	URL string `json:"url"`

	// Kind — "image" или "video".
	Kind string `json:"kind,omitempty"`
}

// ContentDescriptor — что публиковать.
//
// Для планировщика это непрозрачные данные: он хранит их в записи,
// но в job не копирует (в очередь уходит только JobPayload).
type ContentDescriptor struct {
	Caption string      `json:"caption,omitempty"`
	Media   []MediaRef  `json:"media,omitempty"`
	Channel PostChannel `json:"channel"`
}

// ScheduleRecord — запись о намерении опубликовать контент в заданное время.
//
// Это единственный источник истины: состояние очереди всегда
// выводится из записей и может быть восстановлено по ним.
type ScheduleRecord struct {
	// ID — стабильный идентификатор, никогда не переиспользуется.
	ID uuid.UUID `json:"id"`

	// OwningUserID — владелец (tenant).
	OwningUserID string `json:"owning_user_id"`

	// TargetAccountID — аккаунт, в который публикуем.
	TargetAccountID string `json:"target_account_id"`

	// ScheduledAt — абсолютное время публикации.
	ScheduledAt time.Time `json:"scheduled_at"`

	// Content — описание публикуемого контента.
	Content ContentDescriptor `json:"content"`

	// Recurrence — ежедневный повтор. Повтор реализует внешний CRUD-слой,
	// создавая новые записи; очередь о нём не знает.
	Recurrence bool `json:"recurrence"`

	// Status — pending, fired или cancelled.
	Status RecordStatus `json:"status"`

	// JobGeneration — поколение job, который запись сейчас ожидает.
	// 0 — job ещё ни разу не ставился.
	JobGeneration int64 `json:"job_generation"`

	FiredAt     *time.Time `json:"fired_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewScheduleRecord создаёт pending-запись.
func NewScheduleRecord(userID, accountID string, at time.Time, content ContentDescriptor) *ScheduleRecord {
	now := time.Now().UTC()
	if content.Channel == "" {
		content.Channel = PostChannelPost
	}
	return &ScheduleRecord{
		ID:              uuid.New(),
		OwningUserID:    userID,
		TargetAccountID: accountID,
		ScheduledAt:     at.UTC(),
		Content:         content,
		Status:          RecordStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsPending возвращает true, если запись ещё ожидает публикации.
func (r *ScheduleRecord) IsPending() bool {
	return r.Status == RecordStatusPending
}

// JobID возвращает идентификатор job текущего поколения.
func (r *ScheduleRecord) JobID() JobID {
	return JobID{RecordID: r.ID, Generation: r.JobGeneration}
}

// Payload возвращает данные для job.
func (r *ScheduleRecord) Payload() JobPayload {
	return JobPayload{
		RecordID:    r.ID,
		ScheduledAt: r.ScheduledAt,
		UserID:      r.OwningUserID,
		AccountID:   r.TargetAccountID,
	}
}

// MarkFired переводит запись в fired.
func (r *ScheduleRecord) MarkFired(at time.Time) error {
	if !r.Status.CanTransitionTo(RecordStatusFired) {
		return ErrInvalidTransition
	}
	r.Status = RecordStatusFired
	r.FiredAt = &at
	r.UpdatedAt = at
	return nil
}

// MarkCancelled переводит запись в cancelled.
func (r *ScheduleRecord) MarkCancelled(at time.Time) error {
	if !r.Status.CanTransitionTo(RecordStatusCancelled) {
		return ErrInvalidTransition
	}
	r.Status = RecordStatusCancelled
	r.CancelledAt = &at
	r.UpdatedAt = at
	return nil
}
