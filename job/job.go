package job

import (
	"time"

	"github.com/batonq/baton/backoff"
	"github.com/batonq/baton/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be claimed by a worker.
	// It becomes eligible once RunAt is not in the future.
	StatusQueued Status = "queued"
	// StatusRunning means a worker has claimed the job and is executing it.
	StatusRunning Status = "running"
	// StatusSucceeded means the job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusDeadLettered means the job exhausted its attempt budget and
	// requires operator action to run again.
	StatusDeadLettered Status = "dead_lettered"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []Status{StatusQueued, StatusRunning, StatusSucceeded, StatusDeadLettered}

// DefaultMaxAttempts is applied when a submission does not specify an
// attempt budget.
const DefaultMaxAttempts = 3

// UnknownType is the label under which blank or missing job types are
// aggregated in metrics.
const UnknownType = "unknown"

// Job is the unit of work and the only persistent entity. Rows are never
// deleted by the queue itself; terminal jobs remain as audit records.
type Job struct {
	ID   id.JobID `json:"id"`
	Type string   `json:"job_type"`
	// Payload is an opaque string owned and interpreted by the registered
	// handler, typically JSON.
	Payload string `json:"payload,omitempty"`
	Status  Status `json:"status"`

	AttemptCount int `json:"attempt_count"`
	MaxAttempts  int `json:"max_attempts"`

	// IdempotencyKey, when non-empty, maps to at most one job row.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	LastError      string `json:"last_error,omitempty"`

	// WorkerID identifies the worker currently or most recently holding
	// the job. Nil if the job has never been claimed.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// RunAt is the eligibility time: the job may be claimed only once
	// RunAt <= now.
	RunAt     time.Time  `json:"run_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// New builds a queued job ready for submission. maxAttempts must be
// positive; callers normally pass DefaultMaxAttempts.
func New(jobType, payload string, maxAttempts int, idempotencyKey string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:             id.NewJobID(),
		Type:           jobType,
		Payload:        payload,
		Status:         StatusQueued,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: idempotencyKey,
		RunAt:          now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusQueued && !j.RunAt.After(now)
}

// MarkRunning records a claim: RUNNING under workerID with StartedAt set.
// Store backends that claim in SQL perform the equivalent update in the
// claim statement itself; MarkRunning is the in-process rendering of the
// same transition.
func (j *Job) MarkRunning(workerID id.WorkerID, now time.Time) {
	j.Status = StatusRunning
	j.WorkerID = workerID
	started := now
	j.StartedAt = &started
	j.UpdatedAt = now
}

// MarkSucceeded records a successful completion.
func (j *Job) MarkSucceeded(now time.Time) {
	j.Status = StatusSucceeded
	j.UpdatedAt = now
}

// RecordFailure applies the retry/dead-letter policy to a failed run:
// the attempt counter is incremented and the error recorded; if attempts
// remain the job is requeued with a backoff delay, otherwise it is
// dead-lettered. AttemptCount never exceeds MaxAttempts, and the job is
// dead-lettered exactly when the two are equal.
func (j *Job) RecordFailure(errMsg string, bo backoff.Strategy, now time.Time) {
	j.AttemptCount++
	j.LastError = errMsg
	j.UpdatedAt = now

	if j.AttemptCount < j.MaxAttempts {
		j.Status = StatusQueued
		j.RunAt = now.Add(bo.Delay(j.AttemptCount))
		return
	}

	j.Status = StatusDeadLettered
}

// ResetForRequeue returns a dead-lettered job to the queue with a fresh
// attempt budget and immediate eligibility. Callers must verify the job is
// dead-lettered first; the method itself does not check.
func (j *Job) ResetForRequeue(now time.Time) {
	j.Status = StatusQueued
	j.AttemptCount = 0
	j.LastError = ""
	j.RunAt = now
	j.UpdatedAt = now
}

// TypeLabel returns the job type normalized for metric aggregation:
// blank types collapse to UnknownType.
func (j *Job) TypeLabel() string {
	if j.Type == "" {
		return UnknownType
	}
	return j.Type
}
