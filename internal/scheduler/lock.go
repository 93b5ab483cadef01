package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// Ключи блокировок одиночного исполнения.
const (
	recoveryLockKey = "lock:recovery"
	sweepLockKey    = "lock:sweep"
)

// Locker — блокировка "один исполнитель на все процессы".
//
// TryLock не ждёт: если блокировка занята, возвращает ok=false.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// RedisLocker — Locker на redislock.
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker создаёт RedisLocker. prefix добавляется к ключам.
func NewRedisLocker(client redislock.RedisClient, prefix string) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		prefix: prefix,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock.Release, true, nil
}

// localLocker — блокировка в пределах процесса, когда Redis не используется.
type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker возвращает Locker, работающий только внутри процесса.
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[string]bool)}
}

func (l *localLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true

	release := func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}
	return release, true, nil
}
