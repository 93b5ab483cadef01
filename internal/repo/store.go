package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
)

// RecordStore — операции Schedule Store, которые нужны планировщику и воркеру.
//
// Реализации: RecordRepo (PostgreSQL) и MemoryRecordStore.
//
// Update и SetGeneration меняют поколение только если в записи всё ещё
// expectedGen, иначе ErrGenerationMismatch.
type RecordStore interface {
	Create(ctx context.Context, rec *domain.ScheduleRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleRecord, error)
	Update(ctx context.Context, rec *domain.ScheduleRecord, expectedGen int64) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetGeneration(ctx context.Context, id uuid.UUID, expectedGen, generation int64) error
	MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPending(ctx context.Context, filter PendingFilter) ([]domain.ScheduleRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]domain.ScheduleRecord, error)
}

var _ RecordStore = (*RecordRepo)(nil)
