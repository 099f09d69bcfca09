// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and finalizes outcomes,
// a Pool of supervisor actors that claim and execute jobs, and a Reaper
// that reclaims jobs abandoned by dead workers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/batonq/baton/backoff"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
	"github.com/batonq/baton/metrics"
	"github.com/batonq/baton/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, applies the retry/dead-letter policy to the outcome, and writes
// the result back conditionally.
type Executor struct {
	registry *job.Registry
	store    job.Store
	agg      *metrics.Aggregator
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	store job.Store,
	agg *metrics.Aggregator,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		agg:      agg,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a job already claimed by workerID to its finalized outcome.
//
// Handler errors never escape: they become state transitions through the
// retry/dead-letter policy. An unregistered job type is an ordinary failure,
// not a crash. The returned error is a store fault only; the caller's tick
// should abort and retry on its next schedule, leaving the row RUNNING for
// the reaper if the fault persists.
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	start := time.Now()
	var execErr error

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		execErr = fmt.Errorf("no handler registered for job type %q", j.Type)
	} else {
		terminal := func(ctx context.Context) error {
			return handler(ctx, j.Payload)
		}
		execErr = e.mw(ctx, j, terminal)
	}

	// Wall-clock around the dispatch call, recorded regardless of outcome.
	elapsed := time.Since(start)
	now := time.Now().UTC()

	if execErr != nil {
		e.agg.RecordFailure(j.TypeLabel(), elapsed)
		j.RecordFailure(execErr.Error(), e.backoff, now)
	} else {
		e.agg.RecordSuccess(j.TypeLabel(), elapsed)
		j.MarkSucceeded(now)
	}

	applied, err := e.store.FinalizeJob(ctx, j, workerID)
	if err != nil {
		e.logger.Error("failed to finalize job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("baton/worker: finalize job %s: %w", j.ID, err)
	}
	if !applied {
		// The stale recovery sweep reclaimed the job mid-execution and
		// already routed it through attempt accounting.
		e.logger.Warn("finalize skipped, job no longer held by this worker",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", workerID.String()),
		)
		return nil
	}

	e.logOutcome(j, execErr, elapsed)
	return nil
}

func (e *Executor) logOutcome(j *job.Job, execErr error, elapsed time.Duration) {
	switch {
	case execErr == nil:
		e.logger.Info("job succeeded",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Duration("elapsed", elapsed),
		)
	case j.Status == job.StatusDeadLettered:
		e.logger.Warn("job dead-lettered after exhausting attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt_count", j.AttemptCount),
			slog.String("error", execErr.Error()),
		)
	default:
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.AttemptCount),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Time("run_at", j.RunAt),
			slog.String("error", execErr.Error()),
		)
	}
}
