package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/batonq/baton"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

// CreateJob persists a new job. On an idempotency-key collision the
// existing row is returned untouched.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	m := toJobModel(j)
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("baton/bun: create job: duplicate id %s: %w", j.ID, err)
		}
		return nil, fmt.Errorf("baton/bun: create job: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return fromJobModel(m)
	}

	// DO NOTHING fired: another row owns this idempotency key.
	existing := new(jobModel)
	err = s.db.NewSelect().Model(existing).
		Where("idempotency_key = ?", j.IdempotencyKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: create job: resolve idempotency key: %w", err)
	}
	return fromJobModel(existing)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, baton.ErrJobNotFound
		}
		return nil, fmt.Errorf("baton/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// ClaimNextJob atomically claims the oldest eligible queued job via raw
// SQL with FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimNextJob(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	var models []jobModel
	_, err := s.db.NewRaw(`
		UPDATE baton_jobs
		SET status = 'running', worker_id = ?0,
		    started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM baton_jobs
			WHERE status = 'queued' AND run_at <= NOW()
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		workerID.String(),
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: claim next job: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return fromJobModel(&models[0])
}

// FinalizeJob writes j's outcome fields if and only if the stored row is
// still RUNNING under workerID.
func (s *Store) FinalizeJob(ctx context.Context, j *job.Job, workerID id.WorkerID) (bool, error) {
	res, err := s.db.NewUpdate().
		TableExpr("baton_jobs").
		Set("status = ?", string(j.Status)).
		Set("attempt_count = ?", j.AttemptCount).
		Set("last_error = ?", j.LastError).
		Set("run_at = ?", j.RunAt).
		Set("updated_at = ?", j.UpdatedAt).
		Where("id = ?", j.ID.String()).
		Where("status = 'running'").
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("baton/bun: finalize job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows == 1, nil
}

// RequeueDeadLetter returns a dead-lettered job to the queue with a fresh
// attempt budget.
func (s *Store) RequeueDeadLetter(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var models []jobModel
	_, err := s.db.NewRaw(`
		UPDATE baton_jobs
		SET status = 'queued', attempt_count = 0, last_error = '',
		    run_at = NOW(), updated_at = NOW()
		WHERE id = ?0 AND status = 'dead_lettered'
		RETURNING *`,
		jobID.String(),
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: requeue dead letter: %w", err)
	}
	if len(models) == 1 {
		return fromJobModel(&models[0])
	}

	// Distinguish a missing row from one in the wrong status.
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, baton.ErrJobNotDeadLettered
}

// RequeueDeadLetters requeues up to limit dead-lettered jobs, oldest
// updated first.
func (s *Store) RequeueDeadLetters(ctx context.Context, limit int) (int64, error) {
	res, err := s.db.NewRaw(`
		UPDATE baton_jobs
		SET status = 'queued', attempt_count = 0, last_error = '',
		    run_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM baton_jobs
			WHERE status = 'dead_lettered'
			ORDER BY updated_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?0
		)`,
		limit,
	).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("baton/bun: requeue dead letters: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// FindStaleRunning returns every running job whose StartedAt is before
// olderThan, oldest first.
func (s *Store) FindStaleRunning(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status = 'running'").
		Where("started_at IS NOT NULL").
		Where("started_at < ?", olderThan).
		Order("started_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: find stale running: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("baton/bun: stale convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
