// Package api is the HTTP boundary over the monitoring service. Not-found
// conditions become 404s; internal failures become a generic 500 with no
// error detail crossing the boundary.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/monitor"
	"github.com/OneClickTag/jobrunner/internal/queue"
	"github.com/OneClickTag/jobrunner/internal/scheduler"
)

type Handler struct {
	mon *monitor.Service
	log *zap.Logger
}

func NewHandler(mon *monitor.Service, log *zap.Logger) *Handler {
	return &Handler{mon: mon, log: log.Named("api")}
}

// Router mounts the monitoring boundary.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/dashboard", h.dashboard)
	r.Get("/v1/queues", h.allStats)
	r.Get("/v1/queues/{queue}/stats", h.queueStats)
	r.Get("/v1/queues/{queue}/jobs", h.queueJobs)
	r.Get("/v1/queues/{queue}/jobs/{id}", h.jobDetail)
	r.Delete("/v1/queues/{queue}/jobs/{id}", h.cancelJob)
	r.Post("/v1/queues/{queue}/jobs/{id}/retry", h.retryJob)
	r.Get("/v1/health", h.health)
	r.Post("/v1/maintenance/cleanup", h.cleanup)
	r.Get("/v1/tenants/{tenant}/jobs", h.tenantJobs)
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, scheduler.ErrUnknownQueue):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
	default:
		h.log.Error("request failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func queueParam(r *http.Request) (domain.QueueName, bool) {
	q := domain.QueueName(chi.URLParam(r, "queue"))
	return q, q.Valid()
}

func intQuery(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mon.GetAllQueueStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	health, err := h.mon.GetQueueHealth(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "health": health})
}

func (h *Handler) allStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mon.GetAllQueueStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	stats, err := h.mon.GetQueueStats(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) queueJobs(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	var status *domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.Status(raw)
		status = &st
	}
	jobs, err := h.mon.GetQueueJobs(r.Context(), name, status,
		intQuery(r, "limit", 20), intQuery(r, "offset", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) jobDetail(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	job, err := h.mon.GetJob(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	cancelled, err := h.mon.CancelJob(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !cancelled {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request) {
	name, ok := queueParam(r)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}
	retried, err := h.mon.RetryJob(r.Context(), name, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !retried {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"retried": true})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.mon.GetQueueHealth(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, health)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r, "olderThanHours", 24)
	report := h.mon.CleanOldJobs(r.Context(), time.Duration(hours)*time.Hour)
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) tenantJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.mon.GetTenantJobs(r.Context(), chi.URLParam(r, "tenant"),
		intQuery(r, "limit", 20), intQuery(r, "offset", 0))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}
