package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/batonq/baton/job"
)

// StatusCounts returns job counts grouped by status, optionally limited
// to rows updated at or after since.
func (s *Store) StatusCounts(ctx context.Context, since *time.Time) (map[job.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM baton_jobs`
	args := []any{}
	if since != nil {
		query += ` WHERE updated_at >= $1`
		args = append(args, *since)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("baton/postgres: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("baton/postgres: scan status count: %w", err)
		}
		counts[job.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("baton/postgres: iterate status counts: %w", err)
	}
	return counts, nil
}

// WorkerStatusCounts returns job counts grouped by worker and status,
// covering only rows that have been claimed at least once.
func (s *Store) WorkerStatusCounts(ctx context.Context, since *time.Time) (map[string]map[job.Status]int64, error) {
	query := `SELECT worker_id, status, COUNT(*) FROM baton_jobs WHERE worker_id <> ''`
	args := []any{}
	if since != nil {
		query += ` AND updated_at >= $1`
		args = append(args, *since)
	}
	query += ` GROUP BY worker_id, status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("baton/postgres: worker status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[job.Status]int64)
	for rows.Next() {
		var (
			workerID string
			status   string
			count    int64
		)
		if err := rows.Scan(&workerID, &status, &count); err != nil {
			return nil, fmt.Errorf("baton/postgres: scan worker status count: %w", err)
		}
		byStatus, ok := counts[workerID]
		if !ok {
			byStatus = make(map[job.Status]int64)
			counts[workerID] = byStatus
		}
		byStatus[job.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("baton/postgres: iterate worker status counts: %w", err)
	}
	return counts, nil
}

// AttemptCounts returns job counts grouped by attempt count.
func (s *Store) AttemptCounts(ctx context.Context) (map[int]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT attempt_count, COUNT(*) FROM baton_jobs GROUP BY attempt_count`,
	)
	if err != nil {
		return nil, fmt.Errorf("baton/postgres: attempt counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var (
			attempts int
			count    int64
		)
		if err := rows.Scan(&attempts, &count); err != nil {
			return nil, fmt.Errorf("baton/postgres: scan attempt count: %w", err)
		}
		counts[attempts] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("baton/postgres: iterate attempt counts: %w", err)
	}
	return counts, nil
}

// ScheduledRetryCount returns the number of queued jobs whose RunAt is
// still in the future.
func (s *Store) ScheduledRetryCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM baton_jobs WHERE status = 'queued' AND run_at > NOW()`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("baton/postgres: scheduled retry count: %w", err)
	}
	return count, nil
}
