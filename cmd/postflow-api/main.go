// Postflow API — Scheduler API поверх HTTP.
//
// Процесс:
//   - выполняет Recovery при старте (восстанавливает очередь по pending-записям)
//   - запускает ежедневный Sweep по cron
//   - слушает события job.dead из RabbitMQ (если настроен) и поднимает алерт в логе
//   - обслуживает /api/v1/*, /healthz, /readyz и /metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Postflow/internal/api"
	"github.com/shaiso/Postflow/internal/config"
	"github.com/shaiso/Postflow/internal/mq"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/scheduler"
	"github.com/shaiso/Postflow/internal/telemetry"
)

var (
	startTime    = time.Now()
	healthChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postflow_api_health_checks_total",
		Help: "Total /healthz requests handled by postflow-api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("postflow-api")
	logger.Info("starting postflow-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := errors.Join(cfg.ValidateStore(), cfg.ValidateBroker()); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Schedule Store
	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := repo.NewRecordRepo(pool)

	// Broker
	rdb, err := queue.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err, "addr", cfg.Redis.Addr())
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("connected to redis", "addr", cfg.Redis.Addr())

	broker := queue.NewRedisBroker(rdb, cfg.Redis.KeyPrefix, logger)
	locker := scheduler.NewRedisLocker(rdb, cfg.Redis.KeyPrefix)

	sched := scheduler.New(scheduler.Config{
		Store:       store,
		Broker:      broker,
		Logger:      logger,
		MaxAttempts: cfg.Retry.Attempts,
	})

	// Recovery один раз за процесс
	lifecycle := scheduler.NewLifecycle()
	recovery := scheduler.NewRecovery(scheduler.RecoveryConfig{
		Scheduler: sched,
		Store:     store,
		Lifecycle: lifecycle,
		Locker:    locker,
		Logger:    logger,
	})
	if _, err := recovery.Run(ctx); err != nil {
		// Не фатально: пропущенные записи подберёт Sweep.
		logger.Error("recovery failed", "error", err)
	}

	// Sweep
	sweeper, err := scheduler.NewSweeper(scheduler.SweeperConfig{
		Scheduler: sched,
		Store:     store,
		Locker:    locker,
		Logger:    logger,
		Horizon:   cfg.Sweep.Horizon(),
		CronExpr:  cfg.Sweep.Cron,
	})
	if err != nil {
		logger.Error("invalid sweep config", "error", err)
		os.Exit(1)
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Dead-job алерты из RabbitMQ
	if cfg.RabbitMQ.Enabled() {
		if conn := startDeadAlerts(ctx, cfg.RabbitMQ.URL, logger); conn != nil {
			defer conn.Close()
		}
	}

	handler := api.NewHandler(api.Config{
		Scheduler: sched,
		Broker:    broker,
		Sweeper:   sweeper,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		healthChecks.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.HandleFunc("/readyz", readyz(pool, rdb))
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// readyz проверяет доступность store и брокера.
func readyz(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// startDeadAlerts подписывается на jobs.dead. Без RabbitMQ API работает
// как обычно, просто без алертов.
func startDeadAlerts(ctx context.Context, url string, logger *slog.Logger) *mq.Connection {
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, dead-job alerts disabled", "error", err)
		return nil
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue: mq.QueueJobsDead,
		Handler: func(_ context.Context, msg *mq.Message) error {
			payload, err := mq.ParsePayload[mq.JobDeadPayload](msg)
			if err != nil {
				return err
			}
			logger.Error("ALERT: post was not published",
				"record_id", payload.RecordID,
				"job_id", payload.JobID,
				"owning_user_id", payload.UserID,
				"target_account_id", payload.AccountID,
				"attempts", payload.Attempts,
				"last_error", payload.LastError,
			)
			return nil
		},
	})

	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dead-job consumer stopped", "error", err)
		}
	}()

	logger.Info("RabbitMQ connected, listening for dead jobs")
	return conn
}
