package api

import (
	"log/slog"

	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/scheduler"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	scheduler *scheduler.Scheduler
	broker    queue.Broker
	sweeper   *scheduler.Sweeper
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Scheduler *scheduler.Scheduler
	Broker    queue.Broker

	// Sweeper — для ручного запуска sweep. nil — endpoint отключён.
	Sweeper *scheduler.Sweeper

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		scheduler: cfg.Scheduler,
		broker:    cfg.Broker,
		sweeper:   cfg.Sweeper,
		logger:    logger,
	}
}
