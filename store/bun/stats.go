package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/batonq/baton/job"
)

// StatusCounts returns job counts grouped by status, optionally limited
// to rows updated at or after since.
func (s *Store) StatusCounts(ctx context.Context, since *time.Time) (map[job.Status]int64, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int64  `bun:"count"`
	}

	q := s.db.NewSelect().
		TableExpr("baton_jobs").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("status")
	if since != nil {
		q = q.Where("updated_at >= ?", *since)
	}

	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("baton/bun: status counts: %w", err)
	}

	counts := make(map[job.Status]int64)
	for _, row := range rows {
		counts[job.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// WorkerStatusCounts returns job counts grouped by worker and status,
// covering only rows that have been claimed at least once.
func (s *Store) WorkerStatusCounts(ctx context.Context, since *time.Time) (map[string]map[job.Status]int64, error) {
	var rows []struct {
		WorkerID string `bun:"worker_id"`
		Status   string `bun:"status"`
		Count    int64  `bun:"count"`
	}

	q := s.db.NewSelect().
		TableExpr("baton_jobs").
		ColumnExpr("worker_id").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("worker_id <> ''").
		GroupExpr("worker_id, status")
	if since != nil {
		q = q.Where("updated_at >= ?", *since)
	}

	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("baton/bun: worker status counts: %w", err)
	}

	counts := make(map[string]map[job.Status]int64)
	for _, row := range rows {
		byStatus, ok := counts[row.WorkerID]
		if !ok {
			byStatus = make(map[job.Status]int64)
			counts[row.WorkerID] = byStatus
		}
		byStatus[job.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// AttemptCounts returns job counts grouped by attempt count.
func (s *Store) AttemptCounts(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		AttemptCount int   `bun:"attempt_count"`
		Count        int64 `bun:"count"`
	}

	err := s.db.NewSelect().
		TableExpr("baton_jobs").
		ColumnExpr("attempt_count").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("attempt_count").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: attempt counts: %w", err)
	}

	counts := make(map[int]int64)
	for _, row := range rows {
		counts[row.AttemptCount] = row.Count
	}
	return counts, nil
}

// ScheduledRetryCount returns the number of queued jobs whose RunAt is
// still in the future.
func (s *Store) ScheduledRetryCount(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("baton_jobs").
		Where("status = 'queued'").
		Where("run_at > NOW()").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("baton/bun: scheduled retry count: %w", err)
	}
	return int64(count), nil
}
