package job

import (
	"context"
	"time"

	"github.com/batonq/baton/id"
)

// Store defines the persistence contract for jobs. It is the single
// synchronization boundary between workers: every mutation of a job row is
// individually atomic, and ClaimNextJob must guarantee that concurrent
// claimers never observe the same row as eligible.
type Store interface {
	// CreateJob persists a new queued job. When the job carries an
	// idempotency key that already maps to a row, the existing row is
	// returned unchanged and no new row is created.
	CreateJob(ctx context.Context, j *Job) (*Job, error)

	// GetJob retrieves a job by ID. Returns baton.ErrJobNotFound if absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimNextJob atomically claims the oldest-created queued job whose
	// RunAt has passed, transitioning it to RUNNING under workerID with
	// StartedAt set, skipping rows locked by concurrent claim attempts.
	// Returns (nil, nil) when no eligible job exists.
	ClaimNextJob(ctx context.Context, workerID id.WorkerID) (*Job, error)

	// FinalizeJob persists the outcome fields of j (status, attempt count,
	// last error, run-at, updated-at) if and only if the stored row is
	// still RUNNING under workerID. Returns false with a nil error when
	// the row is no longer held by that worker, in which case nothing is
	// written; finalization after a stale-recovery reclaim is a no-op.
	FinalizeJob(ctx context.Context, j *Job, workerID id.WorkerID) (bool, error)

	// RequeueDeadLetter returns a dead-lettered job to the queue with a
	// reset attempt budget. Returns baton.ErrJobNotFound for unknown IDs
	// and baton.ErrJobNotDeadLettered when the job is in any other status.
	RequeueDeadLetter(ctx context.Context, jobID id.JobID) (*Job, error)

	// RequeueDeadLetters requeues up to limit dead-lettered jobs, oldest
	// updated-at first, and reports how many were requeued.
	RequeueDeadLetters(ctx context.Context, limit int) (int64, error)

	// FindStaleRunning returns every RUNNING job whose StartedAt is before
	// olderThan, presumed abandoned by a dead or hung worker.
	FindStaleRunning(ctx context.Context, olderThan time.Time) ([]*Job, error)

	// StatusCounts returns job counts grouped by status. A non-nil since
	// restricts the count to rows updated at or after that instant.
	StatusCounts(ctx context.Context, since *time.Time) (map[Status]int64, error)

	// WorkerStatusCounts returns job counts grouped by worker and status,
	// covering only jobs that have been claimed at least once. A non-nil
	// since restricts to rows updated at or after that instant.
	WorkerStatusCounts(ctx context.Context, since *time.Time) (map[string]map[Status]int64, error)

	// AttemptCounts returns job counts grouped by attempt count.
	AttemptCounts(ctx context.Context) (map[int]int64, error)

	// ScheduledRetryCount returns the number of queued jobs that are not
	// yet eligible (RunAt in the future).
	ScheduledRetryCount(ctx context.Context) (int64, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
