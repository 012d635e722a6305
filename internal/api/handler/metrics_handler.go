package handler

import "net/http"

// LagReporter is the narrow view of the Delivery Worker pool this handler
// needs — satisfied by *worker.Pool.
type LagReporter interface {
	Lag() map[string]int64
}

// MetricsHandler serves a human-readable JSON snapshot of per-topic consumer
// lag, supplementing the raw Prometheus scrape endpoint.
type MetricsHandler struct {
	workers LagReporter
}

func NewMetricsHandler(workers LagReporter) *MetricsHandler {
	return &MetricsHandler{workers: workers}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time consumer lag snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"consumer_lag": h.workers.Lag(),
	})
}
