package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Records
	mux.Handle("GET /api/v1/records", chain(http.HandlerFunc(h.ListRecords)))
	mux.Handle("POST /api/v1/records", chain(http.HandlerFunc(h.CreateRecord)))
	mux.Handle("GET /api/v1/records/{id}", chain(http.HandlerFunc(h.GetRecord)))
	mux.Handle("PUT /api/v1/records/{id}/schedule", chain(http.HandlerFunc(h.RescheduleRecord)))
	mux.Handle("POST /api/v1/records/{id}/cancel", chain(http.HandlerFunc(h.CancelRecord)))
	mux.Handle("DELETE /api/v1/records/{id}", chain(http.HandlerFunc(h.DeleteRecord)))

	// Queue
	mux.Handle("GET /api/v1/queue/stats", chain(http.HandlerFunc(h.QueueStats)))
	mux.Handle("GET /api/v1/queue/dead", chain(http.HandlerFunc(h.ListDeadJobs)))
	mux.Handle("POST /api/v1/queue/dead/{job_id}/redrive", chain(http.HandlerFunc(h.RedriveJob)))

	// Ops
	mux.Handle("POST /api/v1/ops/sweep", chain(http.HandlerFunc(h.RunSweep)))
}
