package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
)

// Ошибки брокера.
var (
	// ErrEmpty — нет job'ов, готовых к выдаче.
	ErrEmpty = errors.New("no jobs ready")

	// ErrJobNotFound — job отсутствует в брокере.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotDead — redrive возможен только для dead job.
	ErrNotDead = errors.New("job is not dead")
)

// LeaseExpiredReason — last_error job'а, умершего по истечении lease.
const LeaseExpiredReason = "lease expired"

// Broker — узкий интерфейс брокера отложенных job'ов.
//
// Реализации: RedisBroker, MemoryBroker. Все методы безопасны
// для конкурентного использования из нескольких процессов/горутин.
type Broker interface {
	// Enqueue ставит job. Повторный Enqueue того же JobID ничего не делает
	// и возвращает false.
	Enqueue(ctx context.Context, job *domain.Job) (bool, error)

	// Cancel удаляет все ожидающие (delayed/waiting) job'ы записи любых поколений.
	// Возвращает количество удалённых; 0 — "не найдено", не ошибка.
	// Active job не удаляется: это проигранная гонка с срабатыванием.
	Cancel(ctx context.Context, recordID uuid.UUID) (int, error)

	// CancelJob удаляет конкретное поколение, если оно ещё ожидает.
	CancelJob(ctx context.Context, id domain.JobID) (bool, error)

	// Live возвращает идентификаторы живых (delayed/waiting/active) job'ов записи.
	Live(ctx context.Context, recordID uuid.UUID) ([]domain.JobID, error)

	// Reserve переводит наступившие delayed в waiting и выдаёт один job
	// с lease на указанное время. Attempts увеличивается на 1.
	// Если выдавать нечего — ErrEmpty.
	Reserve(ctx context.Context, lease time.Duration) (*domain.Job, error)

	// Ack подтверждает успешную обработку: job удаляется.
	Ack(ctx context.Context, id domain.JobID) error

	// Fail фиксирует неудачную попытку. Если попытки остались — job
	// возвращается в delayed через retryIn, иначе переходит в dead.
	// Возвращает новое состояние.
	Fail(ctx context.Context, id domain.JobID, reason string, retryIn time.Duration) (domain.JobState, error)

	// ReapExpired возвращает active job'ы с истёкшим lease в waiting
	// (или в dead, если попытки исчерпаны).
	ReapExpired(ctx context.Context) (ReapResult, error)

	// Dead возвращает последние dead job'ы для оператора.
	Dead(ctx context.Context, limit int) ([]domain.Job, error)

	// Redrive возвращает dead job в очередь со сброшенным счётчиком попыток.
	Redrive(ctx context.Context, id domain.JobID) error

	// Stats возвращает размеры очередей.
	Stats(ctx context.Context) (Stats, error)

	// Purge удаляет всё состояние брокера.
	Purge(ctx context.Context) error
}

// ReapResult — итог ReapExpired.
type ReapResult struct {
	// Requeued — сколько job'ов вернулось в waiting.
	Requeued int
	// Dead — job'ы, у которых попытки кончились вместе с lease.
	Dead []domain.Job
}

// Stats — размеры очередей брокера.
type Stats struct {
	Delayed int64 `json:"delayed"`
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
}

// Live возвращает количество живых job'ов.
func (s Stats) Live() int64 {
	return s.Delayed + s.Waiting + s.Active
}
