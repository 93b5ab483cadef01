package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Postflow/internal/mq"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
)

// EventPublisher публикует события жизненного цикла. Реализация — mq.Publisher.
type EventPublisher interface {
	PublishPostPublished(ctx context.Context, payload mq.PostPublishedPayload) error
	PublishJobDead(ctx context.Context, payload mq.JobDeadPayload) error
}

// Worker выполняет сработавшие job'ы.
//
// Worker — stateless компонент:
//   - Забирает готовые job'ы из брокера (queue.Consumer)
//   - Проверяет, что запись ещё ждёт именно этот job
//   - Вызывает publish webhook
//   - Успех: запись fired, событие post.published
//   - Ошибка: retry с exponential backoff, затем dead и событие job.dead
//
// Несколько экземпляров могут работать с одним брокером.
type Worker struct {
	store   repo.RecordStore
	webhook WebhookPublisher
	events  EventPublisher
	now     func() time.Time

	consumer *queue.Consumer

	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
	stoppedMu sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store   repo.RecordStore
	Broker  queue.Broker
	Webhook WebhookPublisher

	// Events — опционально; без него события не публикуются.
	Events EventPublisher

	Policy       queue.RetryPolicy
	Concurrency  int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	ReapInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	w := &Worker{
		store:   cfg.Store,
		webhook: cfg.Webhook,
		events:  cfg.Events,
		now:     now,
		logger:  logger,
	}

	w.consumer = queue.NewConsumer(cfg.Broker, logger, queue.ConsumerConfig{
		Handler:      w.handleJob,
		OnDead:       w.handleDead,
		Policy:       cfg.Policy,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		LeaseTimeout: cfg.LeaseTimeout,
		ReapInterval: cfg.ReapInterval,
	})

	return w
}

// Start запускает обработку job'ов в фоне.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("starting worker")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("job consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения текущих job'ов.
// Незавершённые job'ы вернутся в очередь по истечении lease.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancel != nil {
		w.cancel()
	}
	w.consumer.Stop()
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// ProcessOne обрабатывает один готовый job, если он есть.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	return w.consumer.ProcessOne(ctx)
}

// ReapOnce возвращает в очередь job'ы упавших обработчиков. Job'ы,
// умершие вместе с lease, проходят обычную обработку dead.
func (w *Worker) ReapOnce(ctx context.Context) (queue.ReapResult, error) {
	return w.consumer.ReapOnce(ctx)
}
