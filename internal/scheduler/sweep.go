package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/telemetry"
)

// Значения по умолчанию для Sweeper.
const (
	DefaultSweepCron    = "0 3 * * *"
	DefaultSweepHorizon = 7 * 24 * time.Hour
)

// Sweeper — ежедневная сверка очереди со store.
//
// В отличие от Recovery, берёт записи только в пределах горизонта,
// но включая просроченные pending-записи: они ставятся с нулевой задержкой.
// Нужен на случай, если хранилище брокера было сброшено независимо от store.
type Sweeper struct {
	scheduler *Scheduler
	store     repo.RecordStore
	locker    Locker
	logger    *slog.Logger
	horizon   time.Duration
	cronExpr  string
	pageSize  int
	lockTTL   time.Duration

	cron *cron.Cron
}

// SweeperConfig — конфигурация Sweeper.
type SweeperConfig struct {
	Scheduler *Scheduler
	Store     repo.RecordStore
	Locker    Locker
	Logger    *slog.Logger

	Horizon  time.Duration // default: 7 дней
	CronExpr string        // default: "0 3 * * *" (UTC)
	PageSize int
	LockTTL  time.Duration
}

// NewSweeper создаёт Sweeper. Некорректное cron-выражение — ошибка.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = DefaultSweepHorizon
	}
	cronExpr := cfg.CronExpr
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	if err := ValidateCronExpr(cronExpr); err != nil {
		return nil, err
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Sweeper{
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		locker:    locker,
		logger:    logger,
		horizon:   horizon,
		cronExpr:  cronExpr,
		pageSize:  pageSize,
		lockTTL:   lockTTL,
	}, nil
}

// Sweep выполняет один проход. Если проход уже идёт в другом
// процессе, возвращает ErrSweepInProgress.
func (s *Sweeper) Sweep(ctx context.Context) (ReconcileResult, error) {
	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerSweep, "error").Inc()
		return ReconcileResult{}, fmt.Errorf("obtain sweep lock: %w", err)
	}
	if !ok {
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerSweep, "skipped").Inc()
		return ReconcileResult{}, ErrSweepInProgress
	}
	defer release(context.WithoutCancel(ctx))

	horizon := s.scheduler.now().Add(s.horizon)
	s.logger.Info("sweep started", "horizon", horizon)

	res, err := reconcile(ctx, s.scheduler, s.store, repo.PendingFilter{
		Before: horizon,
		Limit:  s.pageSize,
	}, telemetry.TriggerSweep, s.logger)
	if err != nil {
		telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerSweep, "error").Inc()
		s.logger.Error("sweep aborted", "error", err, "scanned", res.Scanned, "enqueued", res.Enqueued)
		return res, err
	}

	telemetry.ReconcileRuns.WithLabelValues(telemetry.TriggerSweep, "ok").Inc()
	s.logger.Info("sweep completed",
		"scanned", res.Scanned,
		"enqueued", res.Enqueued,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// Start запускает Sweep по расписанию. Не блокирует.
func (s *Sweeper) Start(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(s.cronExpr, func() {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.Error("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}

	s.cron = c
	c.Start()

	s.logger.Info("sweep scheduled", "cron", s.cronExpr, "horizon", s.horizon)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("sweep stopped")
}
