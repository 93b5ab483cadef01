package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/telemetry"
)

// Ошибки Scheduler API.
var (
	// ErrInvalidScheduledAt — время публикации пустое или вне допустимого диапазона.
	ErrInvalidScheduledAt = errors.New("invalid scheduled_at")

	// ErrMissingScheduledAt — reschedule без нового времени.
	ErrMissingScheduledAt = errors.New("scheduled_at is required for reschedule")

	// ErrInvalidRecord — запись не прошла валидацию (пустой владелец, аккаунт, канал).
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRecordNotPending — запись уже fired или cancelled.
	ErrRecordNotPending = errors.New("record is not pending")

	// ErrBrokerUnavailable — брокер не принял операцию.
	// Запись в store при этом остаётся pending, её подберут Recovery/Sweep.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrConcurrentUpdate — поколение записи сменилось между чтением и записью.
	ErrConcurrentUpdate = errors.New("record was modified concurrently")

	// ErrSweepInProgress — другой процесс уже выполняет Sweep.
	ErrSweepInProgress = errors.New("sweep already in progress")
)

// Scheduler — Scheduler API: schedule / cancel / reschedule.
//
// Каждая операция сначала пишет в store, затем меняет очередь.
// Падение между этими шагами оставляет pending-запись без job,
// что чинится Recovery или Sweep. Обратный порядок мог бы оставить
// job без записи, а это уже не восстановить.
type Scheduler struct {
	store       repo.RecordStore
	broker      queue.Broker
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
	gens        *generations
}

// Config — конфигурация Scheduler.
type Config struct {
	Store  repo.RecordStore
	Broker queue.Broker
	Logger *slog.Logger

	// MaxAttempts — лимит попыток для новых job (default: 3).
	MaxAttempts int

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		store:       cfg.Store,
		broker:      cfg.Broker,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         now,
		gens:        &generations{now: now},
	}
}

// CreateInput — данные для новой записи.
type CreateInput struct {
	OwningUserID    string
	TargetAccountID string
	ScheduledAt     time.Time
	Content         domain.ContentDescriptor
	Recurrence      bool
}

// RescheduleInput — изменяемые поля записи. nil — не менять.
type RescheduleInput struct {
	ScheduledAt     *time.Time
	TargetAccountID *string
	Content         *domain.ContentDescriptor
	Recurrence      *bool
}

// Create сохраняет новую pending-запись и ставит для неё job.
//
// Если брокер недоступен, запись всё равно создана: вернётся и запись,
// и ошибка ErrBrokerUnavailable.
func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*domain.ScheduleRecord, error) {
	if in.OwningUserID == "" || in.TargetAccountID == "" {
		return nil, fmt.Errorf("%w: owning user and target account are required", ErrInvalidRecord)
	}
	if err := validateScheduledAt(in.ScheduledAt); err != nil {
		return nil, err
	}

	rec := domain.NewScheduleRecord(in.OwningUserID, in.TargetAccountID, in.ScheduledAt, in.Content)
	rec.Recurrence = in.Recurrence
	if !rec.Content.Channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRecord, rec.Content.Channel)
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.logger.Info("record created",
		"record_id", rec.ID,
		"owning_user_id", rec.OwningUserID,
		"scheduled_at", rec.ScheduledAt,
	)

	if err := s.Schedule(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Schedule ставит job для сохранённой pending-записи.
//
// Каждый вызов выделяет новое поколение и запоминает его в записи,
// поэтому job'ы предыдущих поколений воркер считает устаревшими.
// Ошибка брокера не откатывает запись в store.
func (s *Scheduler) Schedule(ctx context.Context, rec *domain.ScheduleRecord) error {
	return s.schedule(ctx, rec, telemetry.TriggerAPI)
}

func (s *Scheduler) schedule(ctx context.Context, rec *domain.ScheduleRecord, trigger string) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if !rec.IsPending() {
		return ErrRecordNotPending
	}
	if err := validateScheduledAt(rec.ScheduledAt); err != nil {
		return err
	}

	if err := s.bindGeneration(ctx, rec); err != nil {
		return err
	}
	return s.enqueue(ctx, rec, trigger)
}

// bindGeneration выделяет новое поколение и сохраняет его в записи,
// если в store всё ещё поколение из rec.
func (s *Scheduler) bindGeneration(ctx context.Context, rec *domain.ScheduleRecord) error {
	gen := s.gens.next(rec.JobGeneration)

	if err := s.store.SetGeneration(ctx, rec.ID, rec.JobGeneration, gen); err != nil {
		return storeWriteError(rec.ID, "set generation", err)
	}

	rec.JobGeneration = gen
	return nil
}

// storeWriteError переводит ошибки условной записи в ошибки Scheduler API.
func storeWriteError(id uuid.UUID, op string, err error) error {
	switch {
	case errors.Is(err, repo.ErrInvalidState):
		return ErrRecordNotPending
	case errors.Is(err, repo.ErrGenerationMismatch):
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
	default:
		return fmt.Errorf("%s for %s: %w", op, id, err)
	}
}

// enqueue ставит job текущего поколения записи.
func (s *Scheduler) enqueue(ctx context.Context, rec *domain.ScheduleRecord, trigger string) error {
	now := s.now()
	job := domain.NewJob(rec, rec.JobGeneration, s.maxAttempts)
	job.CreatedAt = now.UTC()

	logger := telemetry.WithJob(s.logger, job.ID)

	created, err := s.broker.Enqueue(ctx, job)
	if err != nil {
		logger.Error("failed to enqueue job, record stays pending", "error", err)
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	if !created {
		logger.Debug("job already enqueued")
		return nil
	}

	telemetry.JobsEnqueued.WithLabelValues(trigger).Inc()
	logger.Info("job scheduled",
		"run_at", job.RunAt,
		"delay", job.Delay(now),
		"trigger", trigger,
	)
	return nil
}

// Cancel удаляет все ожидающие job'ы записи. Статус записи не меняется.
// removed == 0 означает "не найдено" и не является ошибкой.
func (s *Scheduler) Cancel(ctx context.Context, recordID uuid.UUID) (int, error) {
	removed, err := s.broker.Cancel(ctx, recordID)
	if err != nil {
		s.logger.Error("failed to cancel jobs", "record_id", recordID, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	if removed > 0 {
		telemetry.JobsCancelled.Add(float64(removed))
	}
	s.logger.Debug("jobs cancelled", "record_id", recordID, "removed", removed)
	return removed, nil
}

// Reschedule меняет время (и, опционально, другие поля) pending-записи
// и переставляет job.
//
// Порядок: валидация, одна запись в store (новое время вместе с новым
// поколением), отмена старых job'ов, постановка нового. Если старый job
// уже сработал, отмена ничего не найдёт: это проигранная гонка, она
// логируется и не повторяется. Если запись успел изменить другой вызов,
// возвращается ErrConcurrentUpdate и store не меняется.
func (s *Scheduler) Reschedule(ctx context.Context, recordID uuid.UUID, in RescheduleInput) (*domain.ScheduleRecord, error) {
	if in.ScheduledAt == nil {
		return nil, ErrMissingScheduledAt
	}
	if err := validateScheduledAt(*in.ScheduledAt); err != nil {
		return nil, err
	}
	if in.TargetAccountID != nil && *in.TargetAccountID == "" {
		return nil, fmt.Errorf("%w: target account is required", ErrInvalidRecord)
	}
	if in.Content != nil && in.Content.Channel != "" && !in.Content.Channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRecord, in.Content.Channel)
	}

	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", recordID, err)
	}
	if !rec.IsPending() {
		return nil, ErrRecordNotPending
	}

	previous := rec.ScheduledAt
	rec.ScheduledAt = in.ScheduledAt.UTC()
	if in.TargetAccountID != nil {
		rec.TargetAccountID = *in.TargetAccountID
	}
	if in.Content != nil {
		rec.Content = *in.Content
		if rec.Content.Channel == "" {
			rec.Content.Channel = domain.PostChannelPost
		}
	}
	if in.Recurrence != nil {
		rec.Recurrence = *in.Recurrence
	}
	rec.UpdatedAt = s.now().UTC()

	// старый job перестаёт совпадать с записью в момент этой записи
	prevGen := rec.JobGeneration
	rec.JobGeneration = s.gens.next(prevGen)
	if err := s.store.Update(ctx, rec, prevGen); err != nil {
		return nil, storeWriteError(recordID, "update record", err)
	}

	removed, err := s.Cancel(ctx, recordID)
	if err != nil {
		return rec, err
	}
	if removed == 0 {
		s.logger.Info("reschedule found no pending job, previous firing lost the race",
			"record_id", recordID,
			"previous_scheduled_at", previous,
		)
	}

	if err := s.enqueue(ctx, rec, telemetry.TriggerAPI); err != nil {
		return rec, err
	}

	s.logger.Info("record rescheduled",
		"record_id", recordID,
		"previous_scheduled_at", previous,
		"scheduled_at", rec.ScheduledAt,
	)
	return rec, nil
}

// CancelRecord — отмена пользователем: запись становится cancelled,
// ожидающие job'ы удаляются.
func (s *Scheduler) CancelRecord(ctx context.Context, recordID uuid.UUID) (*domain.ScheduleRecord, error) {
	if err := s.store.MarkCancelled(ctx, recordID, s.now().UTC()); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil, ErrRecordNotPending
		}
		return nil, fmt.Errorf("cancel record %s: %w", recordID, err)
	}

	if _, err := s.Cancel(ctx, recordID); err != nil {
		// Запись уже cancelled: оставшийся job воркер отбросит.
		s.logger.Warn("record cancelled but jobs were not removed", "record_id", recordID, "error", err)
	}

	s.logger.Info("record cancelled", "record_id", recordID)
	return s.store.GetByID(ctx, recordID)
}

// Delete удаляет запись и её ожидающие job'ы.
func (s *Scheduler) Delete(ctx context.Context, recordID uuid.UUID) error {
	if err := s.store.Delete(ctx, recordID); err != nil {
		return fmt.Errorf("delete record %s: %w", recordID, err)
	}

	if _, err := s.Cancel(ctx, recordID); err != nil {
		s.logger.Warn("record deleted but jobs were not removed", "record_id", recordID, "error", err)
	}

	s.logger.Info("record deleted", "record_id", recordID)
	return nil
}

// Get возвращает запись и идентификаторы её живых job'ов.
func (s *Scheduler) Get(ctx context.Context, recordID uuid.UUID) (*domain.ScheduleRecord, []domain.JobID, error) {
	rec, err := s.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("get record %s: %w", recordID, err)
	}

	live, err := s.broker.Live(ctx, recordID)
	if err != nil {
		return rec, nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	return rec, live, nil
}

// List возвращает записи с фильтрацией по tenant'у.
func (s *Scheduler) List(ctx context.Context, filter repo.RecordFilter) ([]domain.ScheduleRecord, error) {
	return s.store.List(ctx, filter)
}

// ensureScheduled ставит job, если у записи нет живого job текущего поколения.
// rec — снимок из store, он мог устареть. Живые job'ы более старых поколений
// удаляются, job более нового поколения означает, что запись уже
// перепланирована, и её не трогают. Возвращает true, если job поставлен.
func (s *Scheduler) ensureScheduled(ctx context.Context, rec *domain.ScheduleRecord, trigger string) (bool, error) {
	live, err := s.broker.Live(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	var stale []domain.JobID
	for _, id := range live {
		if rec.JobGeneration != 0 && id.Generation == rec.JobGeneration {
			return false, nil
		}
		if id.Generation > rec.JobGeneration {
			s.logger.Debug("record changed after snapshot, newer job kept",
				"record_id", rec.ID,
				"snapshot_generation", rec.JobGeneration,
				"job_id", id.String(),
			)
			return false, nil
		}
		stale = append(stale, id)
	}

	for _, id := range stale {
		if _, err := s.broker.CancelJob(ctx, id); err != nil {
			return false, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
		}
	}

	if err := s.schedule(ctx, rec, trigger); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			s.logger.Debug("record changed after snapshot, skipped", "record_id", rec.ID)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// validateScheduledAt отклоняет пустое и явно некорректное время.
func validateScheduledAt(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: empty", ErrInvalidScheduledAt)
	}
	if y := t.Year(); y < 2000 || y > 9999 {
		return fmt.Errorf("%w: %s out of range", ErrInvalidScheduledAt, t.Format(time.RFC3339))
	}
	return nil
}

// generations выдаёт строго возрастающие номера поколений (unix nanoseconds).
type generations struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// next возвращает поколение больше и предыдущего выданного, и floor.
func (g *generations) next(floor int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	if n <= floor {
		n = floor + 1
	}
	g.last = n
	return n
}
