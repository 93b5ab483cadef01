package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Postflow/internal/config"
	"github.com/shaiso/Postflow/internal/domain"
)

// promoteBatch — сколько delayed job'ов переносится в waiting за один Reserve.
const promoteBatch = 100

// NewRedisClient создаёт клиент Redis по конфигурации и проверяет соединение.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 50,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// RedisBroker — брокер на Redis.
//
// Состояние хранится в Redis и переживает рестарт процессов
// (при включённой персистентности Redis). Переходы состояний — Lua-скрипты.
type RedisBroker struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisBroker создаёт RedisBroker. Пустой prefix заменяется на "postflow:".
func NewRedisBroker(client *redis.Client, prefix string, logger *slog.Logger) *RedisBroker {
	if prefix == "" {
		prefix = "postflow:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) jobKey(id string) string       { return b.prefix + "job:" + id }
func (b *RedisBroker) recordKey(id uuid.UUID) string { return b.prefix + "record:" + id.String() }
func (b *RedisBroker) delayedKey() string            { return b.prefix + "delayed" }
func (b *RedisBroker) waitingKey() string            { return b.prefix + "waiting" }
func (b *RedisBroker) activeKey() string             { return b.prefix + "active" }
func (b *RedisBroker) deadKey() string               { return b.prefix + "dead" }

// Enqueue ставит job.
func (b *RedisBroker) Enqueue(ctx context.Context, job *domain.Job) (bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	id := job.ID.String()
	created := job.CreatedAt
	if created.IsZero() {
		created = b.now()
	}

	res, err := enqueueScript.Run(ctx, b.client,
		[]string{b.jobKey(id), b.delayedKey(), b.waitingKey(), b.recordKey(job.ID.RecordID)},
		id,
		job.RunAt.UnixMilli(),
		b.now().UnixMilli(),
		string(payload),
		job.MaxAttempts,
		created.UnixMilli(),
		job.ID.RecordID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", id, err)
	}

	b.logger.Debug("job enqueued", "job_id", id, "run_at", job.RunAt, "created", res == 1)
	return res == 1, nil
}

// Cancel удаляет ожидающие job'ы записи.
func (b *RedisBroker) Cancel(ctx context.Context, recordID uuid.UUID) (int, error) {
	n, err := cancelScript.Run(ctx, b.client,
		[]string{b.delayedKey(), b.waitingKey(), b.recordKey(recordID)},
		b.prefix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("cancel record %s: %w", recordID, err)
	}
	return n, nil
}

// CancelJob удаляет конкретное поколение.
func (b *RedisBroker) CancelJob(ctx context.Context, id domain.JobID) (bool, error) {
	sid := id.String()
	n, err := cancelJobScript.Run(ctx, b.client,
		[]string{b.jobKey(sid), b.delayedKey(), b.waitingKey(), b.recordKey(id.RecordID)},
		sid,
	).Int()
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", sid, err)
	}
	return n == 1, nil
}

// Live возвращает живые job'ы записи.
func (b *RedisBroker) Live(ctx context.Context, recordID uuid.UUID) ([]domain.JobID, error) {
	members, err := b.client.SMembers(ctx, b.recordKey(recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list live jobs %s: %w", recordID, err)
	}

	ids := make([]domain.JobID, 0, len(members))
	for _, m := range members {
		id, err := domain.ParseJobID(m)
		if err != nil {
			b.logger.Warn("skipping malformed job id in record index", "record_id", recordID, "member", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reserve выдаёт один готовый job.
func (b *RedisBroker) Reserve(ctx context.Context, lease time.Duration) (*domain.Job, error) {
	now := b.now()
	res, err := reserveScript.Run(ctx, b.client,
		[]string{b.delayedKey(), b.waitingKey(), b.activeKey()},
		now.UnixMilli(),
		now.Add(lease).UnixMilli(),
		b.prefix,
		promoteBatch,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	return parseJobHash(pairsToMap(res))
}

// Ack удаляет обработанный job.
func (b *RedisBroker) Ack(ctx context.Context, id domain.JobID) error {
	sid := id.String()
	if err := ackScript.Run(ctx, b.client,
		[]string{b.activeKey(), b.waitingKey()},
		b.prefix, sid, id.RecordID.String(),
	).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", sid, err)
	}
	return nil
}

// Fail фиксирует неудачную попытку.
func (b *RedisBroker) Fail(ctx context.Context, id domain.JobID, reason string, retryIn time.Duration) (domain.JobState, error) {
	sid := id.String()
	now := b.now()
	state, err := failScript.Run(ctx, b.client,
		[]string{b.activeKey(), b.delayedKey(), b.deadKey()},
		b.prefix, sid, id.RecordID.String(), reason,
		now.Add(retryIn).UnixMilli(), now.UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fail %s: %w", sid, err)
	}
	return domain.JobState(state), nil
}

// ReapExpired возвращает зависшие active job'ы.
func (b *RedisBroker) ReapExpired(ctx context.Context) (ReapResult, error) {
	out, err := reapScript.Run(ctx, b.client,
		[]string{b.activeKey(), b.waitingKey(), b.deadKey()},
		b.now().UnixMilli(), b.prefix, LeaseExpiredReason,
	).Slice()
	if err != nil {
		return ReapResult{}, fmt.Errorf("reap expired: %w", err)
	}

	var res ReapResult
	if len(out) == 0 {
		return res, nil
	}
	if n, ok := out[0].(int64); ok {
		res.Requeued = int(n)
	}

	ids := make([]string, 0, len(out)-1)
	for _, v := range out[1:] {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	if res.Dead, err = b.loadJobs(ctx, ids); err != nil {
		return res, fmt.Errorf("load reaped jobs: %w", err)
	}
	return res, nil
}

// Dead возвращает dead job'ы, новые первыми.
func (b *RedisBroker) Dead(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := b.client.ZRevRange(ctx, b.deadKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead: %w", err)
	}

	jobs, err := b.loadJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load dead jobs: %w", err)
	}
	return jobs, nil
}

// loadJobs читает hash'и job'ов одним pipeline. Пропавшие и битые пропускаются.
func (b *RedisBroker) loadJobs(ctx context.Context, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return []domain.Job{}, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, b.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := parseJobHash(fields)
		if err != nil {
			b.logger.Warn("skipping malformed job", "job_id", ids[i], "error", err)
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Redrive возвращает dead job в очередь.
func (b *RedisBroker) Redrive(ctx context.Context, id domain.JobID) error {
	sid := id.String()
	n, err := redriveScript.Run(ctx, b.client,
		[]string{b.jobKey(sid), b.deadKey(), b.waitingKey()},
		sid, b.prefix,
	).Int()
	if err != nil {
		return fmt.Errorf("redrive %s: %w", sid, err)
	}
	switch n {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrNotDead
	}
	return nil
}

// Stats возвращает размеры очередей.
func (b *RedisBroker) Stats(ctx context.Context) (Stats, error) {
	pipe := b.client.Pipeline()
	delayed := pipe.ZCard(ctx, b.delayedKey())
	waiting := pipe.LLen(ctx, b.waitingKey())
	active := pipe.ZCard(ctx, b.activeKey())
	dead := pipe.ZCard(ctx, b.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	return Stats{
		Delayed: delayed.Val(),
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Dead:    dead.Val(),
	}, nil
}

// Purge удаляет все ключи брокера с данным prefix.
func (b *RedisBroker) Purge(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := b.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("purge scan: %w", err)
	}
	if len(batch) > 0 {
		if err := b.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
	}

	b.logger.Warn("broker state purged", "prefix", b.prefix)
	return nil
}

// --- Helpers ---

// pairsToMap превращает ответ HGETALL из Lua (плоский список) в map.
func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

// parseJobHash восстанавливает domain.Job из полей hash.
func parseJobHash(fields map[string]string) (*domain.Job, error) {
	id, err := domain.ParseJobID(fields["id"])
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:        id,
		State:     domain.JobState(fields["state"]),
		LastError: fields["last_error"],
	}

	if err := json.Unmarshal([]byte(fields["payload"]), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", fields["id"], err)
	}

	job.Attempts = atoi(fields["attempts"])
	job.MaxAttempts = atoi(fields["max_attempts"])
	job.RunAt = time.UnixMilli(atoi64(fields["run_at"])).UTC()
	job.CreatedAt = time.UnixMilli(atoi64(fields["created_at"])).UTC()

	return job, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
