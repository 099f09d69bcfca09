package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/batonq/baton/id"
)

// Service is the submission and lookup boundary in front of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a job service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// SubmitOptions carries the optional fields of a submission.
type SubmitOptions struct {
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
	// IdempotencyKey, when non-blank, makes the submission replay-safe:
	// a repeated submission with the same key returns the original job.
	IdempotencyKey string
}

// Submit creates a queued job, or returns the existing one when the
// idempotency key has been seen before.
func (s *Service) Submit(ctx context.Context, jobType, payload string, opts SubmitOptions) (*Job, error) {
	if strings.TrimSpace(jobType) == "" {
		return nil, fmt.Errorf("baton/job: job type must not be blank")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	key := strings.TrimSpace(opts.IdempotencyKey)

	j := New(jobType, payload, maxAttempts, key)

	created, err := s.store.CreateJob(ctx, j)
	if err != nil {
		return nil, fmt.Errorf("baton/job: submit: %w", err)
	}

	if created.ID.String() != j.ID.String() {
		s.logger.Debug("idempotent submission replayed",
			slog.String("job_id", created.ID.String()),
			slog.String("idempotency_key", key),
		)
	} else {
		s.logger.Info("job submitted",
			slog.String("job_id", created.ID.String()),
			slog.String("job_type", jobType),
			slog.Int("max_attempts", maxAttempts),
		)
	}

	return created, nil
}

// Get fetches a job by ID. The store's baton.ErrJobNotFound passes through
// for boundary layers to map onto a not-found response.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	return s.store.GetJob(ctx, jobID)
}
