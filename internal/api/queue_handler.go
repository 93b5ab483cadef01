package api

import (
	"errors"
	"net/http"

	"github.com/shaiso/Postflow/internal/domain"
	"github.com/shaiso/Postflow/internal/queue"
)

const defaultDeadLimit = 20

// QueueStats возвращает размеры очередей.
// GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.broker.Stats(r.Context())
	if err != nil {
		BrokerUnavailable(w, h.logger, err)
		return
	}

	Success(w, QueueStatsFromStats(stats))
}

// ListDeadJobs возвращает последние dead job'ы.
// GET /api/v1/queue/dead?limit=...
func (h *Handler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	limit := int(mustParseInt(r.URL.Query().Get("limit"), defaultDeadLimit))
	if limit <= 0 || limit > maxListLimit {
		limit = defaultDeadLimit
	}

	jobs, err := h.broker.Dead(r.Context(), limit)
	if err != nil {
		BrokerUnavailable(w, h.logger, err)
		return
	}

	result := make([]JobResponse, len(jobs))
	for i := range jobs {
		result[i] = JobFromDomain(&jobs[i])
	}

	List(w, result, len(result))
}

// RedriveJob возвращает dead job в очередь.
// POST /api/v1/queue/dead/{job_id}/redrive
func (h *Handler) RedriveJob(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseJobID(r.PathValue("job_id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	if err := h.broker.Redrive(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, queue.ErrNotDead):
			HandleError(w, h.logger, err, "job not found")
		default:
			BrokerUnavailable(w, h.logger, err)
		}
		return
	}

	h.logger.Info("dead job redriven", "job_id", id.String())
	NoContent(w)
}
