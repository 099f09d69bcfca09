// Package dlq provides operator actions over dead-lettered jobs. There is
// no separate dead-letter table: a dead letter is a job row in status
// dead_lettered, and requeueing is a reset of that same row.
package dlq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

// MaxBatchLimit caps a bulk requeue. Operator-supplied limits are clamped
// to [1, MaxBatchLimit].
const MaxBatchLimit = 1000

// Service provides dead-letter requeue operations over a job store.
type Service struct {
	store  job.Store
	logger *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store job.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Requeue returns a single dead-lettered job to the queue with a fresh
// attempt budget. The store's baton.ErrJobNotFound and
// baton.ErrJobNotDeadLettered pass through for boundary layers to map.
func (s *Service) Requeue(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.store.RequeueDeadLetter(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dead letter requeued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	return j, nil
}

// RequeueBatch requeues up to limit oldest-updated dead-lettered jobs and
// returns how many were requeued. The limit is clamped to [1, MaxBatchLimit].
func (s *Service) RequeueBatch(ctx context.Context, limit int) (int64, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxBatchLimit {
		limit = MaxBatchLimit
	}

	count, err := s.store.RequeueDeadLetters(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("baton/dlq: bulk requeue: %w", err)
	}

	s.logger.Info("dead letters requeued in bulk",
		slog.Int("limit", limit),
		slog.Int64("count", count),
	)
	return count, nil
}
