package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
)

// MemoryRecordStore — RecordStore в памяти процесса.
// Повторяет условия RecordRepo: изменения только для pending-записей.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.ScheduleRecord
}

// NewMemoryRecordStore создаёт пустое хранилище.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[uuid.UUID]domain.ScheduleRecord)}
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func (s *MemoryRecordStore) Create(_ context.Context, rec *domain.ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryRecordStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRecord(&rec)
	return &out, nil
}

func (s *MemoryRecordStore) Update(_ context.Context, rec *domain.ScheduleRecord, expectedGen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.generationLocked(rec.ID, expectedGen)
	if err != nil {
		return err
	}
	cur.TargetAccountID = rec.TargetAccountID
	cur.ScheduledAt = rec.ScheduledAt
	cur.Content = rec.Content
	cur.Recurrence = rec.Recurrence
	cur.UpdatedAt = rec.UpdatedAt
	cur.JobGeneration = rec.JobGeneration
	s.records[rec.ID] = cloneRecord(&cur)
	return nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryRecordStore) SetGeneration(_ context.Context, id uuid.UUID, expectedGen, generation int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.generationLocked(id, expectedGen)
	if err != nil {
		return err
	}
	cur.JobGeneration = generation
	cur.UpdatedAt = time.Now().UTC()
	s.records[id] = cur
	return nil
}

// generationLocked — pendingLocked плюс проверка ожидаемого поколения.
func (s *MemoryRecordStore) generationLocked(id uuid.UUID, expectedGen int64) (domain.ScheduleRecord, error) {
	cur, err := s.pendingLocked(id)
	if err != nil {
		return cur, err
	}
	if cur.JobGeneration != expectedGen {
		return cur, ErrGenerationMismatch
	}
	return cur, nil
}

func (s *MemoryRecordStore) MarkFired(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(id, func(r *domain.ScheduleRecord) error { return r.MarkFired(at) })
}

func (s *MemoryRecordStore) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(id, func(r *domain.ScheduleRecord) error { return r.MarkCancelled(at) })
}

func (s *MemoryRecordStore) transition(id uuid.UUID, apply func(*domain.ScheduleRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	if err := apply(&cur); err != nil {
		return ErrInvalidState
	}
	s.records[id] = cur
	return nil
}

func (s *MemoryRecordStore) ListPending(_ context.Context, filter PendingFilter) ([]domain.ScheduleRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	s.mu.RLock()
	var out []domain.ScheduleRecord
	for _, rec := range s.records {
		if !rec.IsPending() || rec.ScheduledAt.After(filter.Before) {
			continue
		}
		if filter.From != nil && !rec.ScheduledAt.After(*filter.From) {
			continue
		}
		if filter.After != nil && !recordAfter(rec, *filter.After) {
			continue
		}
		out = append(out, cloneRecord(&rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return recordAfter(out[j], out[i]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRecordStore) List(_ context.Context, filter RecordFilter) ([]domain.ScheduleRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	var out []domain.ScheduleRecord
	for _, rec := range s.records {
		if filter.OwningUserID != "" && rec.OwningUserID != filter.OwningUserID {
			continue
		}
		if filter.TargetAccountID != "" && rec.TargetAccountID != filter.TargetAccountID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		out = append(out, cloneRecord(&rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })

	offset := max(filter.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRecordStore) pendingLocked(id uuid.UUID) (domain.ScheduleRecord, error) {
	cur, ok := s.records[id]
	if !ok {
		return domain.ScheduleRecord{}, ErrNotFound
	}
	if !cur.IsPending() {
		return domain.ScheduleRecord{}, ErrInvalidState
	}
	return cur, nil
}

// recordAfter сравнивает записи по (scheduled_at, id), как ORDER BY в RecordRepo.
func recordAfter(a, b domain.ScheduleRecord) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.After(b.ScheduledAt)
	}
	return a.ID.String() > b.ID.String()
}

func cloneRecord(rec *domain.ScheduleRecord) domain.ScheduleRecord {
	out := *rec
	if rec.Content.Media != nil {
		out.Content.Media = append([]domain.MediaRef(nil), rec.Content.Media...)
	}
	return out
}
