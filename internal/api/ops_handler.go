package api

import (
	"net/http"
)

// RunSweep запускает sweep вне расписания.
// POST /api/v1/ops/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		InvalidState(w, "sweep is disabled")
		return
	}

	res, err := h.sweeper.Sweep(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	Success(w, SweepFromResult(res))
}
