package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/telemetry"
)

const (
	defaultPageSize = 500
	defaultLockTTL  = 10 * time.Minute
)

// endOfTime — верхняя граница выборки для Recovery.
var endOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Lifecycle — состояние запуска процесса.
//
// Владеет им тот, кто собирает процесс (main), и передаёт в Recovery.
// Reset нужен тестам, чтобы прогнать Recovery ещё раз в том же процессе.
type Lifecycle struct {
	mu          sync.Mutex
	initialized bool
}

// NewLifecycle создаёт Lifecycle в состоянии "не инициализирован".
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// MarkInitialized переводит процесс в состояние "инициализирован".
// Возвращает false, если это уже было сделано.
func (l *Lifecycle) MarkInitialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return false
	}
	l.initialized = true
	return true
}

// Initialized возвращает true после первого MarkInitialized.
func (l *Lifecycle) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// Reset возвращает Lifecycle в начальное состояние.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	l.initialized = false
	l.mu.Unlock()
}

// ReconcileResult — итог прохода Recovery или Sweep.
type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Recovery — восстановление очереди при старте процесса.
//
// Проходит по всем pending-записям с scheduled_at в будущем и ставит job
// тем, у кого нет живого job текущего поколения. Время срабатывания
// берётся из записи, а не от момента рестарта.
type Recovery struct {
	scheduler *Scheduler
	store     repo.RecordStore
	lifecycle *Lifecycle
	locker    Locker
	logger    *slog.Logger
	pageSize  int
	lockTTL   time.Duration
}

// RecoveryConfig — конфигурация Recovery.
type RecoveryConfig struct {
	Scheduler *Scheduler
	Store     repo.RecordStore

	// Lifecycle — обязателен, один на процесс.
	Lifecycle *Lifecycle

	// Locker — опционально; без него блокировка только внутри процесса.
	Locker Locker

	Logger   *slog.Logger
	PageSize int           // записей за один запрос к store (default: 500)
	LockTTL  time.Duration // TTL блокировки (default: 10m)
}

// NewRecovery создаёт Recovery.
func NewRecovery(cfg RecoveryConfig) *Recovery {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	lifecycle := cfg.Lifecycle
	if lifecycle == nil {
		lifecycle = NewLifecycle()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Recovery{
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		lifecycle: lifecycle,
		locker:    locker,
		logger:    logger,
		pageSize:  pageSize,
		lockTTL:   lockTTL,
	}
}

// Run выполняет Recovery. Повторный вызов в том же процессе ничего не делает,
// кроме случая, когда предыдущий не смог получить блокировку.
func (r *Recovery) Run(ctx context.Context) (ReconcileResult, error) {
	if !r.lifecycle.MarkInitialized() {
		r.logger.Warn("recovery already ran in this process, skipping")
		return ReconcileResult{}, nil
	}

	release, ok, err := r.locker.TryLock(ctx, recoveryLockKey, r.lockTTL)
	if err != nil {
		// Recovery не выполнялась: следующий Run должен попробовать снова
		r.lifecycle.Reset()
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerRecovery, "error").Inc()
		return ReconcileResult{}, fmt.Errorf("obtain recovery lock: %w", err)
	}
	if !ok {
		r.logger.Info("recovery is running in another process, skipping")
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerRecovery, "skipped").Inc()
		return ReconcileResult{}, nil
	}
	defer release(context.WithoutCancel(ctx))

	now := r.scheduler.now()
	r.logger.Info("recovery started", "from", now)

	res, err := reconcile(ctx, r.scheduler, r.store, repo.PendingFilter{
		From:   &now,
		Before: endOfTime,
		Limit:  r.pageSize,
	}, telemetry.TriggerRecovery, r.logger)
	if err != nil {
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerRecovery, "error").Inc()
		r.logger.Error("recovery aborted", "error", err, "scanned", res.Scanned, "enqueued", res.Enqueued)
		return res, err
	}

	telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerRecovery, "ok").Inc()
	r.logger.Info("recovery completed",
		"scanned", res.Scanned,
		"enqueued", res.Enqueued,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// reconcile постранично обходит pending-записи и ставит недостающие job'ы.
//
// Ошибка брокера прерывает проход: остальные записи всё равно не поставить.
// Ошибки отдельных записей логируются, проход продолжается.
func reconcile(ctx context.Context, s *Scheduler, store repo.RecordStore, filter repo.PendingFilter, trigger string, logger *slog.Logger) (ReconcileResult, error) {
	var res ReconcileResult

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := store.ListPending(ctx, filter)
		if err != nil {
			return res, fmt.Errorf("list pending records: %w", err)
		}

		for i := range page {
			rec := &page[i]
			res.Scanned++

			enqueued, err := s.ensureScheduled(ctx, rec, trigger)
			switch {
			case err == nil && enqueued:
				res.Enqueued++
			case err == nil:
				res.Skipped++
			case errors.Is(err, ErrRecordNotPending), errors.Is(err, repo.ErrNotFound):
				// запись сработала или удалена во время прохода
				res.Skipped++
			case errors.Is(err, ErrBrokerUnavailable):
				return res, err
			default:
				res.Failed++
				logger.Error("failed to reconcile record",
					"record_id", rec.ID,
					"trigger", trigger,
					"error", err,
				)
			}
		}

		if len(page) < filter.Limit {
			return res, nil
		}
		last := page[len(page)-1]
		filter.After = &last
	}
}
