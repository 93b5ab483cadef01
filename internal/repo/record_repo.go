package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Postflow/internal/domain"
)

const recordColumns = `
	id, owning_user_id, target_account_id, scheduled_at, content, recurrence,
	status, job_generation, fired_at, cancelled_at, created_at, updated_at`

// RecordRepo — Schedule Store: хранилище записей о запланированных публикациях.
//
// Только CRUD, никакой логики времени. Все проверки переходов статуса
// делаются условием в UPDATE, чтобы конкурентные воркеры не перетёрли друг друга.
type RecordRepo struct {
	pool *pgxpool.Pool
}

// NewRecordRepo создаёт новый RecordRepo.
func NewRecordRepo(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

// Create сохраняет новую запись.
func (r *RecordRepo) Create(ctx context.Context, rec *domain.ScheduleRecord) error {
	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	query := `
		INSERT INTO schedule_records (id, owning_user_id, target_account_id, scheduled_at,
		                              content, recurrence, status, job_generation,
		                              created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID,
		rec.OwningUserID,
		rec.TargetAccountID,
		rec.ScheduledAt,
		contentJSON,
		rec.Recurrence,
		rec.Status,
		rec.JobGeneration,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetByID возвращает запись по ID.
func (r *RecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM schedule_records WHERE id = $1`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

// Update сохраняет изменяемые поля pending-записи (время, аккаунт, контент,
// повтор) вместе с новым поколением. Условие то же, что у SetGeneration.
// Финальные записи не меняются — ErrInvalidState.
func (r *RecordRepo) Update(ctx context.Context, rec *domain.ScheduleRecord, expectedGen int64) error {
	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	// время и поколение пишутся одним UPDATE
	query := `
		UPDATE schedule_records
		SET target_account_id = $2, scheduled_at = $3, content = $4,
		    recurrence = $5, updated_at = $6, job_generation = $7
		WHERE id = $1 AND status = 'pending' AND job_generation = $8
	`
	result, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.TargetAccountID,
		rec.ScheduledAt,
		contentJSON,
		rec.Recurrence,
		rec.UpdatedAt,
		rec.JobGeneration,
		expectedGen,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.rejectReason(ctx, rec.ID)
	}
	return nil
}

// Delete удаляет запись.
func (r *RecordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM schedule_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetGeneration запоминает поколение job, которое запись ожидает.
// Срабатывает только если в записи всё ещё expectedGen.
func (r *RecordRepo) SetGeneration(ctx context.Context, id uuid.UUID, expectedGen, generation int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedule_records SET job_generation = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND job_generation = $2
	`, id, expectedGen, generation)
	if err != nil {
		return fmt.Errorf("set generation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.rejectReason(ctx, id)
	}
	return nil
}

// MarkFired переводит pending-запись в fired.
func (r *RecordRepo) MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(ctx, id, domain.RecordStatusFired, "fired_at", at)
}

// MarkCancelled переводит pending-запись в cancelled.
func (r *RecordRepo) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(ctx, id, domain.RecordStatusCancelled, "cancelled_at", at)
}

// transition выполняет условный переход pending → status.
// column берётся только из констант выше, не из пользовательского ввода.
func (r *RecordRepo) transition(ctx context.Context, id uuid.UUID, status domain.RecordStatus, column string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE schedule_records SET status = $2, %s = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, column)

	result, err := r.pool.Exec(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrNotPending(ctx, id)
	}
	return nil
}

// ListPending возвращает pending-записи в порядке (scheduled_at, id).
//
// Это findPendingBefore(horizon): Before — горизонт (включительно),
// From — нижняя граница (исключительно). Для постраничного обхода
// передайте последнюю запись предыдущей страницы в After.
func (r *RecordRepo) ListPending(ctx context.Context, filter PendingFilter) ([]domain.ScheduleRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	var afterAt *time.Time
	var afterID *uuid.UUID
	if filter.After != nil {
		afterAt = &filter.After.ScheduledAt
		afterID = &filter.After.ID
	}

	query := `SELECT ` + recordColumns + `
		FROM schedule_records
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		  AND ($2::timestamptz IS NULL OR scheduled_at > $2)
		  AND ($3::timestamptz IS NULL OR (scheduled_at, id) > ($3, $4::uuid))
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query, filter.Before, filter.From, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// List возвращает записи tenant'а с фильтрацией.
func (r *RecordRepo) List(ctx context.Context, filter RecordFilter) ([]domain.ScheduleRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(filter.Offset, 0)

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	query := `SELECT ` + recordColumns + `
		FROM schedule_records
		WHERE ($1::text IS NULL OR owning_user_id = $1)
		  AND ($2::text IS NULL OR target_account_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY scheduled_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.OwningUserID),
		nullString(filter.TargetAccountID),
		status,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// missingOrNotPending различает "записи нет" и "запись уже финальная".
func (r *RecordRepo) missingOrNotPending(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schedule_records WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// rejectReason объясняет, почему условный UPDATE с поколением не затронул строк.
func (r *RecordRepo) rejectReason(ctx context.Context, id uuid.UUID) error {
	var status domain.RecordStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM schedule_records WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check record: %w", err)
	}
	if status != domain.RecordStatusPending {
		return ErrInvalidState
	}
	return ErrGenerationMismatch
}

// --- Helpers ---

// PendingFilter — параметры выборки pending-записей.
type PendingFilter struct {
	From   *time.Time
	Before time.Time
	After  *domain.ScheduleRecord
	Limit  int
}

// RecordFilter — параметры фильтрации записей.
type RecordFilter struct {
	OwningUserID    string
	TargetAccountID string
	Status          *domain.RecordStatus
	Limit           int
	Offset          int
}

func collectRecords(rows pgx.Rows) ([]domain.ScheduleRecord, error) {
	var records []domain.ScheduleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// scanRecord читает запись из pgx.Row (pgx.Rows тоже удовлетворяет интерфейсу).
func scanRecord(row pgx.Row) (*domain.ScheduleRecord, error) {
	var rec domain.ScheduleRecord
	var contentJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.OwningUserID,
		&rec.TargetAccountID,
		&rec.ScheduledAt,
		&contentJSON,
		&rec.Recurrence,
		&rec.Status,
		&rec.JobGeneration,
		&rec.FiredAt,
		&rec.CancelledAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	if contentJSON != nil {
		if err := json.Unmarshal(contentJSON, &rec.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}

	return &rec, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
