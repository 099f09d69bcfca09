package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/batonq/baton"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

// CreateJobRequest is the submission body.
type CreateJobRequest struct {
	JobType string `json:"job_type"`
	// Payload is carried opaque to the registered handler.
	Payload     string `json:"payload"`
	MaxAttempts int    `json:"max_attempts"`
}

// JobHandler serves job submission and lookup.
type JobHandler struct {
	service *job.Service
	logger  *slog.Logger
}

// Create handles POST /jobs. An optional Idempotency-Key header makes the
// submission replay-safe: a repeated key returns the original job with the
// same 201 response.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobType == "" {
		writeError(w, http.StatusBadRequest, "job_type must not be blank")
		return
	}

	j, err := h.service.Submit(r.Context(), req.JobType, req.Payload, job.SubmitOptions{
		MaxAttempts:    req.MaxAttempts,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("job submission failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusCreated, j)
}

// Get handles GET /jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, baton.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("job lookup failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	writeJSON(w, http.StatusOK, j)
}
