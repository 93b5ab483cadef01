// Package scheduler реализует Scheduler API и сверку очереди со store.
//
// Структура:
//   - scheduler.go — Scheduler: Create, Schedule, Cancel, Reschedule, CancelRecord, Delete
//   - recovery.go  — Recovery (однократно при старте) и Lifecycle
//   - sweep.go     — Sweeper (ежедневно по cron, в пределах горизонта)
//   - lock.go      — блокировка одиночного исполнения (redislock)
//   - cron.go      — разбор cron-выражений
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:  recordRepo,
//	    Broker: broker,
//	    Logger: logger,
//	})
//
//	lifecycle := scheduler.NewLifecycle()
//	recovery := scheduler.NewRecovery(scheduler.RecoveryConfig{
//	    Scheduler: sched,
//	    Store:     recordRepo,
//	    Lifecycle: lifecycle,
//	    Locker:    scheduler.NewRedisLocker(redisClient, "postflow:"),
//	})
//	if _, err := recovery.Run(ctx); err != nil {
//	    logger.Error("recovery failed", "error", err)
//	}
//
// Recovery и Sweep только добавляют недостающие job'ы, записи они не удаляют.
// Между процессами они разведены блокировкой в Redis.
package scheduler
