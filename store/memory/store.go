// Package memory provides a fully in-memory job.Store. Safe for concurrent
// access. Intended for unit testing and development; nothing survives a
// process restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/batonq/baton"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps every job row in a mutex-guarded map. The map mutex plays
// the role row locks play in the SQL backends: a claim holds it for the
// whole select-and-mark step, so two claimers can never take the same row.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	byKey  map[string]string // idempotency key -> job ID
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		byKey: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds while the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return baton.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// baton.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────

// CreateJob persists a new queued job. A submission whose idempotency key
// already maps to a row returns that row unchanged.
func (m *Store) CreateJob(_ context.Context, j *job.Job) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	if j.IdempotencyKey != "" {
		if existingID, ok := m.byKey[j.IdempotencyKey]; ok {
			cp := *m.jobs[existingID]
			return &cp, nil
		}
	}

	cp := *j
	m.jobs[j.ID.String()] = &cp
	if j.IdempotencyKey != "" {
		m.byKey[j.IdempotencyKey] = j.ID.String()
	}

	out := cp
	return &out, nil
}

// ClaimNextJob claims the oldest-created eligible queued job for workerID.
func (m *Store) ClaimNextJob(_ context.Context, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	now := time.Now().UTC()

	var oldest *job.Job
	for _, j := range m.jobs {
		if !j.Eligible(now) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.MarkRunning(workerID, now)
	cp := *oldest
	return &cp, nil
}

// FinalizeJob writes j's outcome fields only if the stored row is still
// RUNNING under workerID.
func (m *Store) FinalizeJob(_ context.Context, j *job.Job, workerID id.WorkerID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, baton.ErrStoreClosed
	}

	cur, ok := m.jobs[j.ID.String()]
	if !ok {
		return false, nil
	}
	if cur.Status != job.StatusRunning || cur.WorkerID != workerID {
		return false, nil
	}

	cur.Status = j.Status
	cur.AttemptCount = j.AttemptCount
	cur.LastError = j.LastError
	cur.RunAt = j.RunAt
	cur.UpdatedAt = j.UpdatedAt
	return true, nil
}

// RequeueDeadLetter resets a single dead-lettered job for a fresh run.
func (m *Store) RequeueDeadLetter(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, baton.ErrJobNotFound
	}
	if j.Status != job.StatusDeadLettered {
		return nil, baton.ErrJobNotDeadLettered
	}

	j.ResetForRequeue(time.Now().UTC())
	cp := *j
	return &cp, nil
}

// RequeueDeadLetters requeues up to limit dead-lettered jobs, oldest
// updated-at first.
func (m *Store) RequeueDeadLetters(_ context.Context, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, baton.ErrStoreClosed
	}

	var dead []*job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusDeadLettered {
			dead = append(dead, j)
		}
	}
	sort.Slice(dead, func(i, k int) bool {
		return dead[i].UpdatedAt.Before(dead[k].UpdatedAt)
	})
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}

	now := time.Now().UTC()
	for _, j := range dead {
		j.ResetForRequeue(now)
	}
	return int64(len(dead)), nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, baton.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// FindStaleRunning returns RUNNING jobs whose StartedAt is before olderThan.
func (m *Store) FindStaleRunning(_ context.Context, olderThan time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, k int) bool {
		return stale[i].StartedAt.Before(*stale[k].StartedAt)
	})
	return stale, nil
}

// StatusCounts returns job counts grouped by status, optionally restricted
// to rows updated at or after since.
func (m *Store) StatusCounts(_ context.Context, since *time.Time) (map[job.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	counts := make(map[job.Status]int64)
	for _, j := range m.jobs {
		if since != nil && j.UpdatedAt.Before(*since) {
			continue
		}
		counts[j.Status]++
	}
	return counts, nil
}

// WorkerStatusCounts returns counts grouped by worker and status for jobs
// that have been claimed at least once.
func (m *Store) WorkerStatusCounts(_ context.Context, since *time.Time) (map[string]map[job.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	counts := make(map[string]map[job.Status]int64)
	for _, j := range m.jobs {
		if j.WorkerID.IsNil() {
			continue
		}
		if since != nil && j.UpdatedAt.Before(*since) {
			continue
		}
		w := j.WorkerID.String()
		if counts[w] == nil {
			counts[w] = make(map[job.Status]int64)
		}
		counts[w][j.Status]++
	}
	return counts, nil
}

// AttemptCounts returns job counts grouped by attempt count.
func (m *Store) AttemptCounts(_ context.Context) (map[int]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, baton.ErrStoreClosed
	}

	counts := make(map[int]int64)
	for _, j := range m.jobs {
		counts[j.AttemptCount]++
	}
	return counts, nil
}

// ScheduledRetryCount returns the number of queued jobs whose RunAt is
// still in the future.
func (m *Store) ScheduledRetryCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, baton.ErrStoreClosed
	}

	now := time.Now().UTC()
	var count int64
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued && j.RunAt.After(now) {
			count++
		}
	}
	return count, nil
}
