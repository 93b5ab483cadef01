package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Postflow/internal/domain"
)

// Default configuration values.
const (
	defaultConcurrency  = 4
	defaultPollInterval = time.Second
	defaultLeaseTimeout = 2 * time.Minute
	defaultReapInterval = 30 * time.Second
)

// Handler — функция обработки job.
// Возвращает error, если попытка не удалась (job уйдёт в retry или dead).
type Handler func(ctx context.Context, job *domain.Job) error

// DeadHandler вызывается, когда job исчерпал попытки.
type DeadHandler func(ctx context.Context, job *domain.Job, reason string)

// Consumer забирает готовые job'ы из брокера и передаёт их Handler.
//
// Несколько Consumer'ов (в разных процессах) могут работать с одним брокером:
// Reserve атомарен, каждый job выдаётся одному consumer'у.
type Consumer struct {
	broker       Broker
	logger       *slog.Logger
	handler      Handler
	onDead       DeadHandler
	policy       RetryPolicy
	concurrency  int
	pollInterval time.Duration
	leaseTimeout time.Duration
	reapInterval time.Duration

	cancelFunc context.CancelFunc
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Handler — обработчик job'ов.
	Handler Handler

	// OnDead — опционально.
	OnDead DeadHandler

	// Policy — политика повторов (backoff между попытками).
	Policy RetryPolicy

	Concurrency  int           // число параллельных обработчиков (default: 4)
	PollInterval time.Duration // пауза при пустой очереди (default: 1s)
	LeaseTimeout time.Duration // lease на обработку одного job (default: 2m)
	ReapInterval time.Duration // интервал возврата зависших job'ов (default: 30s)
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(broker Broker, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	leaseTimeout := cfg.LeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = defaultLeaseTimeout
	}
	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}

	return &Consumer{
		broker:       broker,
		logger:       logger,
		handler:      cfg.Handler,
		onDead:       cfg.OnDead,
		policy:       cfg.Policy.withDefaults(),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		leaseTimeout: leaseTimeout,
		reapInterval: reapInterval,
	}
}

// Start запускает обработчики и блокируется до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()

	c.logger.Info("consumer started",
		"concurrency", c.concurrency,
		"poll_interval", c.pollInterval,
		"lease_timeout", c.leaseTimeout,
	)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reapLoop(ctx)
	}()

	<-ctx.Done()
	c.wg.Wait()

	c.logger.Info("consumer stopped")
	return ctx.Err()
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// loop — цикл одного обработчика.
func (c *Consumer) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := c.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("failed to reserve job", "error", err)
		}

		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
}

// ProcessOne забирает и обрабатывает один job.
// Возвращает false, если очередь пуста.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	job, err := c.broker.Reserve(ctx, c.leaseTimeout)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger := c.logger.With("job_id", job.ID.String(), "attempt", job.Attempts)

	handlerErr := c.invoke(ctx, job)

	// Остановка посреди обработки: результат не фиксируем,
	// job вернётся в очередь по истечении lease.
	if ctx.Err() != nil {
		logger.Warn("consumer stopping, job left to lease expiry")
		return true, nil
	}

	// ack/fail не должны прерываться отменой
	finishCtx := context.WithoutCancel(ctx)

	if handlerErr == nil {
		if err := c.broker.Ack(finishCtx, job.ID); err != nil {
			logger.Error("failed to ack job", "error", err)
		}
		return true, nil
	}

	retryIn := c.policy.Backoff(job.Attempts)
	state, err := c.broker.Fail(finishCtx, job.ID, handlerErr.Error(), retryIn)
	if err != nil {
		logger.Error("failed to record job failure", "error", err, "cause", handlerErr)
		return true, nil
	}

	if state == domain.JobStateDead {
		logger.Error("job is dead, attempts exhausted",
			"max_attempts", job.MaxAttempts,
			"error", handlerErr,
		)
		if c.onDead != nil {
			job.State = domain.JobStateDead
			job.LastError = handlerErr.Error()
			c.onDead(finishCtx, job, handlerErr.Error())
		}
		return true, nil
	}

	logger.Warn("job failed, will retry",
		"retry_in", retryIn,
		"error", handlerErr,
	)
	return true, nil
}

// invoke вызывает handler, превращая panic в ошибку.
func (c *Consumer) invoke(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in job handler", "job_id", job.ID.String(), "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}

// reapLoop периодически возвращает job'ы с истёкшим lease.
func (c *Consumer) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to reap expired jobs", "error", err)
			}
		}
	}
}

// ReapOnce возвращает зависшие job'ы в очередь. Job'ы, умершие вместе
// с lease, проходят тот же OnDead, что и исчерпавшие попытки в Fail.
func (c *Consumer) ReapOnce(ctx context.Context) (ReapResult, error) {
	res, err := c.broker.ReapExpired(ctx)
	if err != nil {
		return res, err
	}

	if res.Requeued > 0 {
		c.logger.Warn("reaped jobs with expired lease", "count", res.Requeued)
	}
	for i := range res.Dead {
		job := &res.Dead[i]
		c.logger.Error("job is dead, lease expired on last attempt",
			"job_id", job.ID.String(),
			"max_attempts", job.MaxAttempts,
		)
		if c.onDead != nil {
			c.onDead(context.WithoutCancel(ctx), job, job.LastError)
		}
	}
	return res, nil
}
