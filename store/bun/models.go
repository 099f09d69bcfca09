package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:baton_jobs"`

	ID             string     `bun:"id,pk"`
	Type           string     `bun:"job_type,notnull"`
	Payload        string     `bun:"payload,notnull,default:''"`
	Status         string     `bun:"status,notnull,default:'queued'"`
	AttemptCount   int        `bun:"attempt_count,notnull,default:0"`
	MaxAttempts    int        `bun:"max_attempts,notnull,default:3"`
	IdempotencyKey *string    `bun:"idempotency_key,unique,nullzero"`
	LastError      string     `bun:"last_error,notnull,default:''"`
	WorkerID       string     `bun:"worker_id,notnull,default:''"`
	RunAt          time.Time  `bun:"run_at,notnull"`
	StartedAt      *time.Time `bun:"started_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

// toJobModel converts a job to its row form. An empty idempotency key
// becomes NULL so it stays out of the unique constraint.
func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:           j.ID.String(),
		Type:         j.Type,
		Payload:      j.Payload,
		Status:       string(j.Status),
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		LastError:    j.LastError,
		WorkerID:     j.WorkerID.String(),
		RunAt:        j.RunAt,
		StartedAt:    j.StartedAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.IdempotencyKey != "" {
		key := j.IdempotencyKey
		m.IdempotencyKey = &key
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("baton/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:           parsedID,
		Type:         m.Type,
		Payload:      m.Payload,
		Status:       job.Status(m.Status),
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		LastError:    m.LastError,
		RunAt:        m.RunAt,
		StartedAt:    m.StartedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}

	if m.IdempotencyKey != nil {
		j.IdempotencyKey = *m.IdempotencyKey
	}
	if m.WorkerID != "" {
		parsedWorker, workerErr := id.ParseWorkerID(m.WorkerID)
		if workerErr != nil {
			return nil, fmt.Errorf("baton/bun: parse worker id %q: %w", m.WorkerID, workerErr)
		}
		j.WorkerID = parsedWorker
	}

	return j, nil
}
