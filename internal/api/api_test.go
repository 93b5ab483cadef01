package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	clock  *fakeClock
	store  *repo.MemoryRecordStore
	broker *queue.MemoryBroker
	mux    *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	store := repo.NewMemoryRecordStore()
	broker := queue.NewMemoryBroker(queue.WithClock(clock.Now))

	return newTestServerWith(t, clock, store, broker, broker)
}

func newTestServerWith(t *testing.T, clock *fakeClock, store *repo.MemoryRecordStore, broker queue.Broker, mem *queue.MemoryBroker) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(scheduler.Config{
		Store:       store,
		Broker:      broker,
		Logger:      logger,
		MaxAttempts: 1,
		Now:         clock.Now,
	})
	sweeper, err := scheduler.NewSweeper(scheduler.SweeperConfig{
		Scheduler: sched,
		Store:     store,
		Logger:    logger,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(Config{
		Scheduler: sched,
		Broker:    broker,
		Sweeper:   sweeper,
		Logger:    logger,
	}).RegisterRoutes(mux)

	return &testServer{clock: clock, store: store, broker: mem, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func (s *testServer) createRecord(t *testing.T, at time.Time) RecordResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/records", CreateRecordRequest{
		OwningUserID:    "user-1",
		TargetAccountID: "acct-1",
		ScheduledAt:     at,
		Content:         domain.ContentDescriptor{Caption: "hello", Channel: domain.PostChannelPost},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[RecordResponse](t, rec)
}

func TestCreateRecord(t *testing.T) {
	s := newTestServer(t)
	at := s.clock.Now().Add(time.Hour)

	created := s.createRecord(t, at)
	assert.Equal(t, domain.RecordStatusPending, created.Status)
	assert.True(t, created.ScheduledAt.Equal(at))
	assert.NotZero(t, created.JobGeneration)

	got := s.do(t, http.MethodGet, "/api/v1/records/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, got.Code)

	body := decodeData[RecordResponse](t, got)
	want := domain.JobID{RecordID: created.ID, Generation: created.JobGeneration}
	assert.Equal(t, []string{want.String()}, body.LiveJobs)
}

func TestCreateRecord_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"owning_user_id":`},
		{"missing user", `{"target_account_id":"a","scheduled_at":"2026-05-10T10:00:00Z"}`},
		{"missing scheduled_at", `{"owning_user_id":"u","target_account_id":"a"}`},
		{"unknown channel", `{"owning_user_id":"u","target_account_id":"a","scheduled_at":"2026-05-10T10:00:00Z","content":{"channel":"tv"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.mux.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrCodeBadRequest, decodeError(t, rec).Code)
		})
	}
}

// downBroker отказывает на всех операциях.
type downBroker struct {
	queue.Broker
}

var errDown = errors.New("dial tcp 10.0.0.7:6379: connection refused")

func (downBroker) Enqueue(context.Context, *domain.Job) (bool, error)      { return false, errDown }
func (downBroker) Live(context.Context, uuid.UUID) ([]domain.JobID, error) { return nil, errDown }
func (downBroker) Stats(context.Context) (queue.Stats, error)              { return queue.Stats{}, errDown }

func TestBrokerDown_HidesCause(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	store := repo.NewMemoryRecordStore()
	s := newTestServerWith(t, clock, store, downBroker{}, nil)

	t.Run("create keeps record", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/records", CreateRecordRequest{
			OwningUserID:    "user-1",
			TargetAccountID: "acct-1",
			ScheduledAt:     clock.Now().Add(time.Hour),
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		body := decodeData[RecordResponse](t, rec)
		stored, err := store.GetByID(context.Background(), body.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsPending())
	})

	t.Run("stats", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		detail := decodeError(t, rec)
		assert.Equal(t, ErrCodeBrokerUnavailable, detail.Code)
		assert.NotContains(t, detail.Message, "connection refused")
	})

	t.Run("sweep", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/ops/sweep", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.7")
	})
}

func TestGetRecord_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/records/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/records/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec).Code)
}

func TestRescheduleRecord(t *testing.T) {
	s := newTestServer(t)
	created := s.createRecord(t, s.clock.Now().Add(time.Hour))
	path := "/api/v1/records/" + created.ID.String() + "/schedule"

	t.Run("missing scheduled_at", func(t *testing.T) {
		rec := s.do(t, http.MethodPut, path, map[string]any{"target_account_id": "acct-2"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("moves job", func(t *testing.T) {
		newAt := s.clock.Now().Add(3 * time.Hour)
		rec := s.do(t, http.MethodPut, path, RescheduleRequest{ScheduledAt: &newAt})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeData[RecordResponse](t, rec)
		assert.True(t, body.ScheduledAt.Equal(newAt))
		assert.Greater(t, body.JobGeneration, created.JobGeneration)

		live, err := s.broker.Live(context.Background(), created.ID)
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, body.JobGeneration, live[0].Generation)
	})

	t.Run("unknown record", func(t *testing.T) {
		at := s.clock.Now().Add(time.Hour)
		rec := s.do(t, http.MethodPut, "/api/v1/records/"+uuid.NewString()+"/schedule", RescheduleRequest{ScheduledAt: &at})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCancelRecord(t *testing.T) {
	s := newTestServer(t)
	created := s.createRecord(t, s.clock.Now().Add(time.Hour))
	path := "/api/v1/records/" + created.ID.String() + "/cancel"

	rec := s.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RecordStatusCancelled, decodeData[RecordResponse](t, rec).Status)

	live, err := s.broker.Live(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, live)

	rec = s.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ErrCodeInvalidState, decodeError(t, rec).Code)

	at := s.clock.Now().Add(2 * time.Hour)
	rec = s.do(t, http.MethodPut, "/api/v1/records/"+created.ID.String()+"/schedule", RescheduleRequest{ScheduledAt: &at})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestServer(t)
	created := s.createRecord(t, s.clock.Now().Add(time.Hour))
	path := "/api/v1/records/" + created.ID.String()

	rec := s.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stats, err := s.broker.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Live())

	rec = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRecords(t *testing.T) {
	s := newTestServer(t)
	first := s.createRecord(t, s.clock.Now().Add(time.Hour))
	s.createRecord(t, s.clock.Now().Add(2*time.Hour))

	rec := s.do(t, http.MethodPost, "/api/v1/records/"+first.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/records?user_id=user-1&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeData[[]RecordResponse](t, rec)
	require.Len(t, pending, 1)
	assert.NotEqual(t, first.ID, pending[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/records?user_id=someone-else", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeData[[]RecordResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/records?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/records?user_id=user-1&offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeBadRequest, decodeError(t, rec).Code)
}

func TestDeadJobs_Redrive(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	created := s.createRecord(t, s.clock.Now().Add(time.Minute))

	s.clock.Advance(2 * time.Minute)
	job, err := s.broker.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	state, err := s.broker.Fail(ctx, job.ID, "webhook returned 502", 0)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateDead, state)

	rec := s.do(t, http.MethodGet, "/api/v1/queue/dead", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dead := decodeData[[]JobResponse](t, rec)
	require.Len(t, dead, 1)
	assert.Equal(t, created.ID, dead[0].RecordID)
	assert.Equal(t, "webhook returned 502", dead[0].LastError)

	redrive := "/api/v1/queue/dead/" + job.ID.String() + "/redrive"
	rec = s.do(t, http.MethodPost, redrive, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData[QueueStatsResponse](t, rec)
	assert.Zero(t, stats.Dead)
	assert.Equal(t, int64(1), stats.Live)

	rec = s.do(t, http.MethodPost, redrive, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/queue/dead/garbage/redrive", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := domain.JobID{RecordID: uuid.New(), Generation: 1}
	rec = s.do(t, http.MethodPost, "/api/v1/queue/dead/"+missing.String()+"/redrive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSweep_RestoresLostJobs(t *testing.T) {
	s := newTestServer(t)
	s.createRecord(t, s.clock.Now().Add(time.Hour))
	s.createRecord(t, s.clock.Now().Add(48*time.Hour))

	require.NoError(t, s.broker.Purge(context.Background()))

	rec := s.do(t, http.MethodPost, "/api/v1/ops/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeData[SweepResponse](t, rec)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Enqueued)

	rec = s.do(t, http.MethodPost, "/api/v1/ops/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeData[SweepResponse](t, rec)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Enqueued)
}

func TestMiddleware_RequestIDAndRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := Chain(RequestID(), Recovery(logger), Logging(logger))

	var seen string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, rec).Code)
}

func TestHandleError_Mapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{scheduler.ErrInvalidScheduledAt, http.StatusBadRequest, ErrCodeBadRequest},
		{scheduler.ErrMissingScheduledAt, http.StatusBadRequest, ErrCodeBadRequest},
		{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{queue.ErrJobNotFound, http.StatusNotFound, ErrCodeNotFound},
		{scheduler.ErrRecordNotPending, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{queue.ErrNotDead, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{scheduler.ErrSweepInProgress, http.StatusConflict, ErrCodeConflict},
		{fmt.Errorf("%w: %s", scheduler.ErrConcurrentUpdate, uuid.New()), http.StatusConflict, ErrCodeConflict},
		{errors.Join(scheduler.ErrBrokerUnavailable, errDown), http.StatusServiceUnavailable, ErrCodeBrokerUnavailable},
		{errDown, http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.True(t, HandleError(rec, logger, tt.err, "record not found"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	assert.False(t, HandleError(httptest.NewRecorder(), logger, nil, ""))
}
