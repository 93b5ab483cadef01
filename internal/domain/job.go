package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidJobID — строка не является идентификатором job.
var ErrInvalidJobID = errors.New("invalid job id")

const jobIDPrefix = "post"

// JobID — идентификатор job: запись + поколение.
//
// RecordID позволяет найти все job записи при отмене.
// Generation различает job одной записи после reschedule: отмена
// конкретного поколения не может задеть более новый job.
type JobID struct {
	RecordID   uuid.UUID
	Generation int64
}

// String возвращает строковую форму "post:<record_id>:<generation>".
func (id JobID) String() string {
	return fmt.Sprintf("%s:%s:%d", jobIDPrefix, id.RecordID, id.Generation)
}

// IsZero возвращает true для пустого идентификатора.
func (id JobID) IsZero() bool {
	return id.RecordID == uuid.Nil && id.Generation == 0
}

// ParseJobID разбирает строковую форму JobID.
func ParseJobID(s string) (JobID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != jobIDPrefix {
		return JobID{}, fmt.Errorf("%w: %q", ErrInvalidJobID, s)
	}

	recordID, err := uuid.Parse(parts[1])
	if err != nil {
		return JobID{}, fmt.Errorf("%w: %q: %v", ErrInvalidJobID, s, err)
	}

	gen, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || gen <= 0 {
		return JobID{}, fmt.Errorf("%w: %q: bad generation", ErrInvalidJobID, s)
	}

	return JobID{RecordID: recordID, Generation: gen}, nil
}

// MarshalText реализует encoding.TextMarshaler.
func (id JobID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (id *JobID) UnmarshalText(b []byte) error {
	parsed, err := ParseJobID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// JobPayload — данные, которые нужны воркеру. Это же тело запроса к webhook.
//
// ContentDescriptor сюда намеренно не входит: записи в очереди должны быть маленькими.
type JobPayload struct {
	RecordID    uuid.UUID `json:"recordId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	UserID      string    `json:"userId"`
	AccountID   string    `json:"accountId"`
}

// Job — запись в брокере. Эфемерна и всегда выводима из ScheduleRecord.
type Job struct {
	ID          JobID      `json:"id"`
	Payload     JobPayload `json:"payload"`
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	State       JobState   `json:"state"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewJob создаёт job для записи с заданным поколением.
func NewJob(rec *ScheduleRecord, generation int64, maxAttempts int) *Job {
	return &Job{
		ID:          JobID{RecordID: rec.ID, Generation: generation},
		Payload:     rec.Payload(),
		RunAt:       rec.ScheduledAt,
		MaxAttempts: maxAttempts,
		State:       JobStateDelayed,
		CreatedAt:   time.Now().UTC(),
	}
}

// Delay возвращает задержку до срабатывания: max(run_at - now, 0).
func (j *Job) Delay(now time.Time) time.Duration {
	d := j.RunAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CanRetry проверяет, остались ли попытки.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}
