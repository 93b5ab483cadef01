package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
)

// MemoryBroker — брокер в памяти процесса.
//
// Семантика совпадает с RedisBroker, но состояние не переживает рестарт.
// Используется в тестах и для локального запуска без Redis.
type MemoryBroker struct {
	mu      sync.Mutex
	now     func() time.Time
	jobs    map[domain.JobID]*memoryEntry
	waiting []domain.JobID // FIFO
}

type memoryEntry struct {
	job        domain.Job
	leaseUntil time.Time
	diedAt     time.Time
}

// MemoryOption настраивает MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewMemoryBroker создаёт пустой MemoryBroker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		now:  time.Now,
		jobs: make(map[domain.JobID]*memoryEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Broker = (*MemoryBroker)(nil)

// Enqueue ставит job.
func (b *MemoryBroker) Enqueue(_ context.Context, job *domain.Job) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.jobs[job.ID]; exists {
		return false, nil
	}

	entry := &memoryEntry{job: *job}
	entry.job.Attempts = 0
	entry.job.LastError = ""
	if !job.RunAt.After(b.now()) {
		entry.job.State = domain.JobStateWaiting
		b.waiting = append(b.waiting, job.ID)
	} else {
		entry.job.State = domain.JobStateDelayed
	}

	b.jobs[job.ID] = entry
	return true, nil
}

// Cancel удаляет ожидающие job'ы записи.
func (b *MemoryBroker) Cancel(_ context.Context, recordID uuid.UUID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, e := range b.jobs {
		if id.RecordID != recordID {
			continue
		}
		if b.removePendingLocked(id, e) {
			removed++
		}
	}
	return removed, nil
}

// CancelJob удаляет конкретное поколение.
func (b *MemoryBroker) CancelJob(_ context.Context, id domain.JobID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[id]
	if !ok {
		return false, nil
	}
	return b.removePendingLocked(id, e), nil
}

func (b *MemoryBroker) removePendingLocked(id domain.JobID, e *memoryEntry) bool {
	switch e.job.State {
	case domain.JobStateDelayed:
	case domain.JobStateWaiting:
		b.removeWaitingLocked(id)
	default:
		return false
	}
	delete(b.jobs, id)
	return true
}

func (b *MemoryBroker) removeWaitingLocked(id domain.JobID) {
	for i, w := range b.waiting {
		if w == id {
			b.waiting = append(b.waiting[:i], b.waiting[i+1:]...)
			return
		}
	}
}

// Live возвращает живые job'ы записи.
func (b *MemoryBroker) Live(_ context.Context, recordID uuid.UUID) ([]domain.JobID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []domain.JobID
	for id, e := range b.jobs {
		if id.RecordID == recordID && e.job.State.IsLive() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Generation < ids[j].Generation })
	return ids, nil
}

// Reserve выдаёт один готовый job.
func (b *MemoryBroker) Reserve(_ context.Context, lease time.Duration) (*domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.promoteLocked(now)

	var e *memoryEntry
	for e == nil {
		if len(b.waiting) == 0 {
			return nil, ErrEmpty
		}
		e = b.jobs[b.waiting[0]]
		b.waiting = b.waiting[1:]
	}

	e.job.State = domain.JobStateActive
	e.job.Attempts++
	e.leaseUntil = now.Add(lease)

	job := e.job
	return &job, nil
}

// promoteLocked переводит наступившие delayed в waiting в порядке run_at.
func (b *MemoryBroker) promoteLocked(now time.Time) {
	var due []*memoryEntry
	for _, e := range b.jobs {
		if e.job.State == domain.JobStateDelayed && !e.job.RunAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].job.RunAt.Before(due[j].job.RunAt) })

	for _, e := range due {
		e.job.State = domain.JobStateWaiting
		b.waiting = append(b.waiting, e.job.ID)
	}
}

// Ack удаляет обработанный job.
func (b *MemoryBroker) Ack(_ context.Context, id domain.JobID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.jobs[id]; ok && e.job.State == domain.JobStateWaiting {
		b.removeWaitingLocked(id)
	}
	delete(b.jobs, id)
	return nil
}

// Fail фиксирует неудачную попытку.
func (b *MemoryBroker) Fail(_ context.Context, id domain.JobID, reason string, retryIn time.Duration) (domain.JobState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}

	now := b.now()
	e.job.LastError = reason
	e.leaseUntil = time.Time{}

	if e.job.Attempts >= e.job.MaxAttempts {
		e.job.State = domain.JobStateDead
		e.diedAt = now
		return domain.JobStateDead, nil
	}

	e.job.State = domain.JobStateDelayed
	e.job.RunAt = now.Add(retryIn)
	return domain.JobStateDelayed, nil
}

// ReapExpired возвращает зависшие active job'ы.
func (b *MemoryBroker) ReapExpired(_ context.Context) (ReapResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var res ReapResult
	for id, e := range b.jobs {
		if e.job.State != domain.JobStateActive || e.leaseUntil.After(now) {
			continue
		}
		e.leaseUntil = time.Time{}
		if e.job.Attempts >= e.job.MaxAttempts {
			e.job.State = domain.JobStateDead
			e.job.LastError = LeaseExpiredReason
			e.diedAt = now
			res.Dead = append(res.Dead, e.job)
			continue
		}
		e.job.State = domain.JobStateWaiting
		b.waiting = append([]domain.JobID{id}, b.waiting...)
		res.Requeued++
	}
	return res, nil
}

// Dead возвращает dead job'ы, новые первыми.
func (b *MemoryBroker) Dead(_ context.Context, limit int) ([]domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dead []*memoryEntry
	for _, e := range b.jobs {
		if e.job.State == domain.JobStateDead {
			dead = append(dead, e)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].diedAt.After(dead[j].diedAt) })

	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}

	jobs := make([]domain.Job, len(dead))
	for i, e := range dead {
		jobs[i] = e.job
	}
	return jobs, nil
}

// Redrive возвращает dead job в очередь.
func (b *MemoryBroker) Redrive(_ context.Context, id domain.JobID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.State != domain.JobStateDead {
		return ErrNotDead
	}

	e.job.State = domain.JobStateWaiting
	e.job.Attempts = 0
	e.job.LastError = ""
	e.diedAt = time.Time{}
	b.waiting = append(b.waiting, id)
	return nil
}

// Stats возвращает размеры очередей.
func (b *MemoryBroker) Stats(_ context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var s Stats
	for _, e := range b.jobs {
		switch e.job.State {
		case domain.JobStateDelayed:
			s.Delayed++
		case domain.JobStateWaiting:
			s.Waiting++
		case domain.JobStateActive:
			s.Active++
		case domain.JobStateDead:
			s.Dead++
		}
	}
	return s, nil
}

// Purge удаляет всё состояние.
func (b *MemoryBroker) Purge(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs = make(map[domain.JobID]*memoryEntry)
	b.waiting = nil
	return nil
}
