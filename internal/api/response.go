package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Postflow/internal/queue"
	"github.com/shaiso/Postflow/internal/repo"
	"github.com/shaiso/Postflow/internal/scheduler"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeBrokerUnavailable ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// brokerUnavailableMessage — всё, что клиент узнаёт о сбое брокера.
const brokerUnavailableMessage = "scheduling is temporarily unavailable, the record will be queued automatically"

// ErrorResponse — {"error": {...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и сообщение ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — {"data": [...], "total": n}.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success — 200 с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created — 201 с созданным объектом.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent — 204 без тела.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List — 200 со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InvalidState — 422: операция невозможна в текущем состоянии.
func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError — 500. Причина пишется только в лог.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// BrokerUnavailable — 503. Причина пишется только в лог.
func BrokerUnavailable(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Warn("broker unavailable", "error", err)
	Error(w, http.StatusServiceUnavailable, ErrCodeBrokerUnavailable, brokerUnavailableMessage)
}

// HandleError преобразует ошибку scheduler/store/broker в HTTP ответ.
// Возвращает false, если ошибки нет.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, scheduler.ErrInvalidScheduledAt),
		errors.Is(err, scheduler.ErrMissingScheduledAt),
		errors.Is(err, scheduler.ErrInvalidRecord):
		BadRequest(w, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, queue.ErrJobNotFound):
		NotFound(w, "job not found")
	case errors.Is(err, scheduler.ErrRecordNotPending),
		errors.Is(err, repo.ErrInvalidState):
		InvalidState(w, "record is not pending")
	case errors.Is(err, queue.ErrNotDead):
		InvalidState(w, "job is not dead")
	case errors.Is(err, scheduler.ErrSweepInProgress):
		Conflict(w, "sweep already in progress")
	case errors.Is(err, scheduler.ErrConcurrentUpdate):
		Conflict(w, "record was modified concurrently, retry")
	case errors.Is(err, scheduler.ErrBrokerUnavailable):
		BrokerUnavailable(w, logger, err)
	default:
		InternalError(w, logger, err)
	}
	return true
}
