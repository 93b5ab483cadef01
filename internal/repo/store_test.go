package repo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newRecord(user string, at time.Time) *domain.ScheduleRecord {
	rec := domain.NewScheduleRecord(user, "acct-"+user, at, domain.ContentDescriptor{
		Caption: "caption for " + user,
		Media:   []domain.MediaRef{{URL: "https://cdn.example.com/" + user + ".jpg", Kind: "image"}},
		Channel: domain.PostChannelReel,
	})
	rec.CreatedAt = baseTime
	rec.UpdatedAt = baseTime
	return rec
}

func TestMemoryRecordStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) RecordStore {
		return NewMemoryRecordStore()
	})
}

// TestRecordRepo требует PostgreSQL: POSTFLOW_TEST_DB_URL=postgresql://...
func TestRecordRepo(t *testing.T) {
	dsn := os.Getenv("POSTFLOW_TEST_DB_URL")
	if dsn == "" {
		t.Skip("POSTFLOW_TEST_DB_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	// Повторный вызов не должен падать.
	require.NoError(t, EnsureSchema(ctx, pool))

	runStoreSuite(t, func(t *testing.T) RecordStore {
		_, err := pool.Exec(ctx, `TRUNCATE schedule_records`)
		require.NoError(t, err)
		return NewRecordRepo(pool)
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) RecordStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		rec.Recurrence = true
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.OwningUserID, got.OwningUserID)
		assert.True(t, rec.ScheduledAt.Equal(got.ScheduledAt))
		assert.Equal(t, rec.Content, got.Content)
		assert.True(t, got.Recurrence)
		assert.Equal(t, domain.RecordStatusPending, got.Status)
		assert.Zero(t, got.JobGeneration)

		assert.ErrorIs(t, s.Create(ctx, rec), ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update only pending", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		require.NoError(t, s.Create(ctx, rec))

		rec.ScheduledAt = baseTime.Add(2 * time.Hour)
		rec.TargetAccountID = "acct-new"
		rec.Content.Caption = "edited"
		rec.JobGeneration = 5
		require.NoError(t, s.Update(ctx, rec, 0))

		got, err := s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.ScheduledAt.Equal(baseTime.Add(2*time.Hour)))
		assert.Equal(t, "acct-new", got.TargetAccountID)
		assert.Equal(t, "edited", got.Content.Caption)
		assert.Equal(t, int64(5), got.JobGeneration)

		require.NoError(t, s.MarkFired(ctx, rec.ID, baseTime.Add(2*time.Hour)))
		assert.ErrorIs(t, s.Update(ctx, rec, 5), ErrInvalidState)

		missing := newRecord("u2", baseTime)
		assert.ErrorIs(t, s.Update(ctx, missing, 0), ErrNotFound)
	})

	t.Run("update rejects changed generation", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		require.NoError(t, s.Create(ctx, rec))
		require.NoError(t, s.SetGeneration(ctx, rec.ID, 0, 7))

		edited := *rec
		edited.ScheduledAt = baseTime.Add(5 * time.Hour)
		edited.JobGeneration = 8
		assert.ErrorIs(t, s.Update(ctx, &edited, 0), ErrGenerationMismatch)

		got, err := s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.ScheduledAt.Equal(baseTime.Add(time.Hour)), "time must not change without the generation")
		assert.Equal(t, int64(7), got.JobGeneration)
	})

	t.Run("set generation", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		require.NoError(t, s.Create(ctx, rec))

		require.NoError(t, s.SetGeneration(ctx, rec.ID, 0, 1778403600000000000))
		got, err := s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1778403600000000000), got.JobGeneration)

		// снимок со старым поколением не перетирает новое
		assert.ErrorIs(t, s.SetGeneration(ctx, rec.ID, 0, 2), ErrGenerationMismatch)
		got, err = s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1778403600000000000), got.JobGeneration)

		require.NoError(t, s.MarkCancelled(ctx, rec.ID, baseTime))
		assert.ErrorIs(t, s.SetGeneration(ctx, rec.ID, 1778403600000000000, 2), ErrInvalidState)
		assert.ErrorIs(t, s.SetGeneration(ctx, uuid.New(), 0, 2), ErrNotFound)
	})

	t.Run("transitions are final", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		require.NoError(t, s.Create(ctx, rec))

		firedAt := baseTime.Add(time.Hour)
		require.NoError(t, s.MarkFired(ctx, rec.ID, firedAt))

		got, err := s.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordStatusFired, got.Status)
		require.NotNil(t, got.FiredAt)
		assert.True(t, got.FiredAt.Equal(firedAt))
		assert.Nil(t, got.CancelledAt)

		assert.ErrorIs(t, s.MarkFired(ctx, rec.ID, firedAt), ErrInvalidState)
		assert.ErrorIs(t, s.MarkCancelled(ctx, rec.ID, firedAt), ErrInvalidState)
		assert.ErrorIs(t, s.MarkCancelled(ctx, uuid.New(), firedAt), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord("u1", baseTime.Add(time.Hour))
		require.NoError(t, s.Create(ctx, rec))

		require.NoError(t, s.Delete(ctx, rec.ID))
		_, err := s.GetByID(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, rec.ID), ErrNotFound)
	})

	t.Run("list pending window and order", func(t *testing.T) {
		s := newStore(t)

		past := newRecord("past", baseTime.Add(-time.Hour))
		atNow := newRecord("now", baseTime)
		soon := newRecord("soon", baseTime.Add(time.Hour))
		edge := newRecord("edge", baseTime.Add(24*time.Hour))
		far := newRecord("far", baseTime.Add(48*time.Hour))
		fired := newRecord("fired", baseTime.Add(2*time.Hour))
		for _, r := range []*domain.ScheduleRecord{far, soon, fired, past, edge, atNow} {
			require.NoError(t, s.Create(ctx, r))
		}
		require.NoError(t, s.MarkFired(ctx, fired.ID, baseTime))

		// Sweep: всё до горизонта включительно, просроченные тоже.
		got, err := s.ListPending(ctx, PendingFilter{Before: baseTime.Add(24 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{past.ID, atNow.ID, soon.ID, edge.ID}, ids(got))

		// Recovery: строго в будущем.
		from := baseTime
		got, err = s.ListPending(ctx, PendingFilter{From: &from, Before: baseTime.Add(100 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{soon.ID, edge.ID, far.ID}, ids(got))
	})

	t.Run("list pending pagination", func(t *testing.T) {
		s := newStore(t)

		// Одинаковое время: порядок по id.
		var want []uuid.UUID
		for i := 0; i < 7; i++ {
			r := newRecord(fmt.Sprintf("u%d", i), baseTime.Add(time.Duration(i/3)*time.Hour))
			require.NoError(t, s.Create(ctx, r))
		}
		all, err := s.ListPending(ctx, PendingFilter{Before: baseTime.Add(10 * time.Hour), Limit: 100})
		require.NoError(t, err)
		require.Len(t, all, 7)
		want = ids(all)

		var paged []uuid.UUID
		filter := PendingFilter{Before: baseTime.Add(10 * time.Hour), Limit: 3}
		for {
			page, err := s.ListPending(ctx, filter)
			require.NoError(t, err)
			paged = append(paged, ids(page)...)
			if len(page) < filter.Limit {
				break
			}
			last := page[len(page)-1]
			filter.After = &last
		}
		assert.Equal(t, want, paged)
	})

	t.Run("list by tenant", func(t *testing.T) {
		s := newStore(t)

		a1 := newRecord("alice", baseTime.Add(time.Hour))
		a2 := newRecord("alice", baseTime.Add(2*time.Hour))
		a3 := newRecord("alice", baseTime.Add(3*time.Hour))
		b1 := newRecord("bob", baseTime.Add(time.Hour))
		for _, r := range []*domain.ScheduleRecord{a1, a2, a3, b1} {
			require.NoError(t, s.Create(ctx, r))
		}
		require.NoError(t, s.MarkCancelled(ctx, a2.ID, baseTime))

		got, err := s.List(ctx, RecordFilter{OwningUserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a3.ID, a2.ID, a1.ID}, ids(got))

		pending := domain.RecordStatusPending
		got, err = s.List(ctx, RecordFilter{OwningUserID: "alice", Status: &pending})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a3.ID, a1.ID}, ids(got))

		got, err = s.List(ctx, RecordFilter{OwningUserID: "alice", Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a2.ID}, ids(got))

		got, err = s.List(ctx, RecordFilter{OwningUserID: "alice", Offset: -3})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a3.ID, a2.ID, a1.ID}, ids(got))

		got, err = s.List(ctx, RecordFilter{TargetAccountID: "acct-bob"})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{b1.ID}, ids(got))
	})
}

func ids(records []domain.ScheduleRecord) []uuid.UUID {
	out := make([]uuid.UUID, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}
