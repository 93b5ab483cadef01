package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/scheduler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListRecords возвращает записи с фильтрацией.
// GET /api/v1/records?user_id=...&account_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := int(mustParseInt(q.Get("offset"), 0))
	if offset < 0 {
		BadRequest(w, "offset must not be negative")
		return
	}

	filter := repo.RecordFilter{
		OwningUserID:    q.Get("user_id"),
		TargetAccountID: q.Get("account_id"),
		Limit:           parseLimit(q.Get("limit")),
		Offset:          offset,
	}

	if statusStr := q.Get("status"); statusStr != "" {
		status := domain.RecordStatus(statusStr)
		if !status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = &status
	}

	records, err := h.scheduler.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]RecordResponse, len(records))
	for i := range records {
		result[i] = RecordFromDomain(&records[i])
	}

	List(w, result, len(result))
}

// CreateRecord создаёт запись и ставит для неё job.
// POST /api/v1/records
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	rec, err := h.scheduler.Create(r.Context(), req.ToInput())
	if err != nil && rec != nil && errors.Is(err, scheduler.ErrBrokerUnavailable) {
		// Запись сохранена, job поставит Sweep.
		h.logger.Warn("record created without job", "record_id", rec.ID, "error", err)
		JSON(w, http.StatusAccepted, DataResponse{Data: RecordFromDomain(rec)})
		return
	}
	if HandleError(w, h.logger, err, "") {
		return
	}

	Created(w, RecordFromDomain(rec))
}

// GetRecord возвращает запись и её живые job'ы.
// GET /api/v1/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	rec, live, err := h.scheduler.Get(r.Context(), id)
	if err != nil && rec != nil && errors.Is(err, scheduler.ErrBrokerUnavailable) {
		h.logger.Warn("live jobs unavailable", "record_id", id, "error", err)
		err = nil
	}
	if HandleError(w, h.logger, err, "record not found") {
		return
	}

	resp := RecordFromDomain(rec)
	for _, jobID := range live {
		resp.LiveJobs = append(resp.LiveJobs, jobID.String())
	}

	Success(w, resp)
}

// RescheduleRecord переносит запись на новое время.
// PUT /api/v1/records/{id}/schedule
func (h *Handler) RescheduleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	rec, err := h.scheduler.Reschedule(r.Context(), id, req.ToInput())
	if HandleError(w, h.logger, err, "record not found") {
		return
	}

	Success(w, RecordFromDomain(rec))
}

// CancelRecord отменяет запись.
// POST /api/v1/records/{id}/cancel
func (h *Handler) CancelRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	rec, err := h.scheduler.CancelRecord(r.Context(), id)
	if HandleError(w, h.logger, err, "record not found") {
		return
	}

	Success(w, RecordFromDomain(rec))
}

// DeleteRecord удаляет запись.
// DELETE /api/v1/records/{id}
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRecordID(w, r)
	if !ok {
		return
	}

	err := h.scheduler.Delete(r.Context(), id)
	if HandleError(w, h.logger, err, "record not found") {
		return
	}

	NoContent(w)
}

func parseRecordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}

// parseLimit разбирает limit с ограничением сверху.
func parseLimit(s string) int {
	limit := int(mustParseInt(s, defaultListLimit))
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// mustParseInt парсит строку в int64, возвращая defaultVal при ошибке.
func mustParseInt(s string, defaultVal int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}
