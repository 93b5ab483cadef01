// Postflow Worker — вызывает webhook публикации для наступивших job'ов.
//
// Worker:
//   - забирает job'ы из Redis-брокера (N горутин, lease)
//   - проверяет, что запись ещё pending и поколение совпадает
//   - вызывает webhook; при ошибке брокер повторяет с backoff, потом dead
//   - публикует post.published / job.dead в RabbitMQ (если настроен)
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Postflow/internal/config"
	"github.com/shaiso/Postflow/internal/mq"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/scheduler"
	"github.com/shaiso/Postflow/internal/telemetry"
	"github.com/shaiso/Postflow/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("postflow-worker")
	logger.Info("starting postflow-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := errors.Join(cfg.ValidateStore(), cfg.ValidateBroker(), cfg.ValidateWebhook()); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	store := repo.NewRecordRepo(pool)

	// Redis
	rdb, err := queue.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err, "addr", cfg.Redis.Addr())
		os.Exit(1)
	}
	defer rdb.Close()

	broker := queue.NewRedisBroker(rdb, cfg.Redis.KeyPrefix, logger)

	// Recovery: воркер мог стартовать раньше API
	sched := scheduler.New(scheduler.Config{
		Store:       store,
		Broker:      broker,
		Logger:      logger,
		MaxAttempts: cfg.Retry.Attempts,
	})
	recovery := scheduler.NewRecovery(scheduler.RecoveryConfig{
		Scheduler: sched,
		Store:     store,
		Lifecycle: scheduler.NewLifecycle(),
		Locker:    scheduler.NewRedisLocker(rdb, cfg.Redis.KeyPrefix),
		Logger:    logger,
	})
	if _, err := recovery.Run(ctx); err != nil {
		logger.Error("recovery failed", "error", err)
	}

	// RabbitMQ
	var events worker.EventPublisher
	if cfg.RabbitMQ.Enabled() {
		mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events disabled", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			events = mq.NewPublisher(mqConn, logger)
		}
	}

	webhook, err := worker.NewWebhookClient(cfg.Webhook.URL, cfg.Webhook.Timeout)
	if err != nil {
		logger.Error("failed to create webhook client", "error", err)
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		Store:   store,
		Broker:  broker,
		Webhook: webhook,
		Events:  events,
		Policy: queue.RetryPolicy{
			MaxAttempts: cfg.Retry.Attempts,
			BaseDelay:   cfg.Retry.BackoffBase,
			MaxDelay:    cfg.Retry.BackoffMax,
		},
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		LeaseTimeout: cfg.Worker.LeaseTimeout,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Worker.MetricsAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker
	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("postflow-worker stopped")
}
