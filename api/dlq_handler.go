package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/batonq/baton"
	"github.com/batonq/baton/dlq"
	"github.com/batonq/baton/id"
)

// defaultBatchLimit applies when a bulk requeue omits the limit parameter.
const defaultBatchLimit = 100

// DLQHandler serves the dead-letter operator actions.
type DLQHandler struct {
	service *dlq.Service
	logger  *slog.Logger
}

// Requeue handles POST /jobs/{jobID}/requeue. Requeueing a job that is not
// dead-lettered is a conflict, not a success.
func (h *DLQHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := h.service.Requeue(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, baton.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, baton.ErrJobNotDeadLettered):
			writeError(w, http.StatusConflict, "job is not dead-lettered")
		default:
			h.logger.Error("requeue failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to requeue job")
		}
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// RequeueBatch handles POST /dead-letter/requeue?limit=N. The limit is
// clamped by the dlq service; the response reports how many jobs were
// actually requeued.
func (h *DLQHandler) RequeueBatch(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	count, err := h.service.RequeueBatch(r.Context(), limit)
	if err != nil {
		h.logger.Error("bulk requeue failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to requeue dead letters")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}
