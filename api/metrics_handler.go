package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/batonq/baton/job"
	"github.com/batonq/baton/metrics"
)

// defaultSinceMinutes is the recent-window span when the query omits it.
const defaultSinceMinutes = 5

// MetricsResponse combines durable aggregates from the store with the
// process-local aggregator's live counters.
type MetricsResponse struct {
	StatusCounts        map[job.Status]int64            `json:"status_counts"`
	ByWorker            map[string]map[job.Status]int64 `json:"by_worker"`
	AttemptDistribution map[int]int64                   `json:"attempt_distribution"`
	ScheduledForRetry   int64                           `json:"scheduled_for_retry"`
	Recent              MetricsWindow                   `json:"recent"`

	ProcessedLastMinute         int64              `json:"processed_last_minute"`
	FailuresByJobType           map[string]int64   `json:"failures_by_job_type"`
	AvgDurationSecondsByJobType map[string]float64 `json:"avg_duration_seconds_by_job_type"`
}

// MetricsWindow is the slice of aggregates restricted to rows updated in
// the trailing SinceMinutes.
type MetricsWindow struct {
	SinceMinutes int                             `json:"since_minutes"`
	StatusCounts map[job.Status]int64            `json:"status_counts"`
	ByWorker     map[string]map[job.Status]int64 `json:"by_worker"`
}

// MetricsHandler serves the observability endpoints.
type MetricsHandler struct {
	store  job.Store
	agg    *metrics.Aggregator
	logger *slog.Logger
}

// Metrics handles GET /metrics?sinceMinutes=M.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	sinceMinutes, ok := sinceMinutesParam(r, defaultSinceMinutes)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sinceMinutes")
		return
	}

	ctx := r.Context()
	since := time.Now().UTC().Add(-time.Duration(sinceMinutes) * time.Minute)

	statusCounts, err := h.store.StatusCounts(ctx, nil)
	if err != nil {
		h.fail(w, "status counts", err)
		return
	}
	byWorker, err := h.store.WorkerStatusCounts(ctx, nil)
	if err != nil {
		h.fail(w, "worker counts", err)
		return
	}
	attempts, err := h.store.AttemptCounts(ctx)
	if err != nil {
		h.fail(w, "attempt counts", err)
		return
	}
	scheduled, err := h.store.ScheduledRetryCount(ctx)
	if err != nil {
		h.fail(w, "scheduled retry count", err)
		return
	}
	recentStatus, err := h.store.StatusCounts(ctx, &since)
	if err != nil {
		h.fail(w, "recent status counts", err)
		return
	}
	recentByWorker, err := h.store.WorkerStatusCounts(ctx, &since)
	if err != nil {
		h.fail(w, "recent worker counts", err)
		return
	}

	writeJSON(w, http.StatusOK, MetricsResponse{
		StatusCounts:        statusCounts,
		ByWorker:            byWorker,
		AttemptDistribution: attempts,
		ScheduledForRetry:   scheduled,
		Recent: MetricsWindow{
			SinceMinutes: sinceMinutes,
			StatusCounts: recentStatus,
			ByWorker:     recentByWorker,
		},
		ProcessedLastMinute:         h.agg.ProcessedLastMinute(),
		FailuresByJobType:           h.agg.FailuresByJobType(),
		AvgDurationSecondsByJobType: h.agg.AvgDurationSecondsByJobType(),
	})
}

// Workers handles GET /debug/workers[?sinceMinutes=M]: job counts grouped
// by worker and status. Without sinceMinutes the counts are all-time.
func (h *MetricsHandler) Workers(w http.ResponseWriter, r *http.Request) {
	since, ok := optionalSince(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sinceMinutes")
		return
	}

	counts, err := h.store.WorkerStatusCounts(r.Context(), since)
	if err != nil {
		h.fail(w, "worker counts", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// WorkersSummary handles GET /debug/workers/summary[?sinceMinutes=M]: job
// counts grouped by status alone.
func (h *MetricsHandler) WorkersSummary(w http.ResponseWriter, r *http.Request) {
	since, ok := optionalSince(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sinceMinutes")
		return
	}

	counts, err := h.store.StatusCounts(r.Context(), since)
	if err != nil {
		h.fail(w, "status counts", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *MetricsHandler) fail(w http.ResponseWriter, what string, err error) {
	h.logger.Error("metrics query failed",
		slog.String("query", what),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to compute metrics")
}

// sinceMinutesParam parses the sinceMinutes query parameter, falling back
// to def when absent. Returns false on a malformed or non-positive value.
func sinceMinutesParam(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("sinceMinutes")
	if raw == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

// optionalSince resolves sinceMinutes to a cutoff time, or nil when absent.
func optionalSince(r *http.Request) (*time.Time, bool) {
	raw := r.URL.Query().Get("sinceMinutes")
	if raw == "" {
		return nil, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return nil, false
	}
	cutoff := time.Now().UTC().Add(-time.Duration(parsed) * time.Minute)
	return &cutoff, true
}
