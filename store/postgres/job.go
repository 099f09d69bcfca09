package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/batonq/baton"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

// jobColumns is the scan list shared by every statement that returns job
// rows. COALESCE keeps NULL idempotency keys out of the Go side.
const jobColumns = `
	id, job_type, payload, status, attempt_count, max_attempts,
	COALESCE(idempotency_key, ''), last_error, worker_id,
	run_at, started_at, created_at, updated_at`

// CreateJob persists a new job. An empty idempotency key is stored as
// NULL so only non-empty keys participate in the unique constraint; on a
// key collision the existing row is returned untouched.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO baton_jobs (
			id, job_type, payload, status, attempt_count, max_attempts,
			idempotency_key, last_error, worker_id,
			run_at, started_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, ''), $8, $9,
			$10, $11, $12, $13
		)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		j.ID.String(), j.Type, j.Payload, string(j.Status),
		j.AttemptCount, j.MaxAttempts,
		j.IdempotencyKey, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CreatedAt, j.UpdatedAt,
	)

	created, err := scanJob(row)
	if err == nil {
		return created, nil
	}
	if !isNoRows(err) {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("baton/postgres: create job: duplicate id %s: %w", j.ID, err)
		}
		return nil, fmt.Errorf("baton/postgres: create job: %w", err)
	}

	// DO NOTHING fired: another row owns this idempotency key.
	existing, err := s.jobByIdempotencyKey(ctx, j.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("baton/postgres: create job: resolve idempotency key: %w", err)
	}
	return existing, nil
}

func (s *Store) jobByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM baton_jobs WHERE idempotency_key = $1`,
		key,
	)
	return scanJob(row)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM baton_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, baton.ErrJobNotFound
		}
		return nil, fmt.Errorf("baton/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimNextJob atomically claims the oldest eligible queued job. SKIP
// LOCKED makes concurrent claimers pass over rows another transaction is
// already taking, so no job is handed out twice.
func (s *Store) ClaimNextJob(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE baton_jobs
		SET status = 'running', worker_id = $1,
		    started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM baton_jobs
			WHERE status = 'queued' AND run_at <= NOW()
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("baton/postgres: claim next job: %w", err)
	}
	return j, nil
}

// FinalizeJob writes j's outcome fields if and only if the stored row is
// still RUNNING under workerID. Zero rows affected means the reclaim race
// was lost and nothing was written.
func (s *Store) FinalizeJob(ctx context.Context, j *job.Job, workerID id.WorkerID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE baton_jobs
		SET status = $3, attempt_count = $4, last_error = $5,
		    run_at = $6, updated_at = $7
		WHERE id = $1 AND status = 'running' AND worker_id = $2`,
		j.ID.String(), workerID.String(),
		string(j.Status), j.AttemptCount, j.LastError,
		j.RunAt, j.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("baton/postgres: finalize job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueDeadLetter returns a dead-lettered job to the queue with a fresh
// attempt budget.
func (s *Store) RequeueDeadLetter(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE baton_jobs
		SET status = 'queued', attempt_count = 0, last_error = '',
		    run_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'dead_lettered'
		RETURNING `+jobColumns,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("baton/postgres: requeue dead letter: %w", err)
	}

	// Distinguish a missing row from one in the wrong status.
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, baton.ErrJobNotDeadLettered
}

// RequeueDeadLetters requeues up to limit dead-lettered jobs, oldest
// updated first, and reports how many rows changed.
func (s *Store) RequeueDeadLetters(ctx context.Context, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE baton_jobs
		SET status = 'queued', attempt_count = 0, last_error = '',
		    run_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM baton_jobs
			WHERE status = 'dead_lettered'
			ORDER BY updated_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)`,
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("baton/postgres: requeue dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindStaleRunning returns every running job whose StartedAt is before
// olderThan, oldest first.
func (s *Store) FindStaleRunning(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM baton_jobs
		WHERE status = 'running'
		  AND started_at IS NOT NULL
		  AND started_at < $1
		ORDER BY started_at ASC`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("baton/postgres: find stale running: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &statusStr,
		&j.AttemptCount, &j.MaxAttempts,
		&j.IdempotencyKey, &j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("baton/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr != nil {
			return nil, fmt.Errorf("baton/postgres: parse worker id %q: %w", workerStr, workerErr)
		}
		j.WorkerID = parsedWorker
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("baton/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("baton/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
