package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/batonq/baton/backoff"
	"github.com/batonq/baton/job"
)

// staleError is the failure message recorded for jobs reclaimed from a
// dead or hung worker.
const staleError = "Stale RUNNING (timeout)"

// Reaper is the stale recovery sweep: a background pass on its own timer
// that finds jobs stuck RUNNING past the run timeout and feeds them through
// the same retry/dead-letter accounting as an ordinary execution failure.
// A job cannot bypass its attempt budget by repeatedly crashing its worker.
type Reaper struct {
	store      job.Store
	backoff    backoff.Strategy
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewReaper creates a stale recovery sweep. interval is how often the sweep
// runs; runTimeout is how long a job may sit RUNNING before it is presumed
// abandoned.
func NewReaper(store job.Store, bo backoff.Strategy, interval, runTimeout time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:      store,
		backoff:    bo,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true

	r.logger.Info("stale job reaper starting",
		slog.Duration("interval", r.interval),
		slog.Duration("run_timeout", r.runTimeout),
	)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Sweep runs one recovery pass and returns how many stale jobs were
// reclaimed. Exported so tests and operators can force a pass.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.runTimeout)

	stale, err := r.store.FindStaleRunning(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale sweep query failed", slog.String("error", err.Error()))
		return 0
	}

	reclaimed := 0
	for _, j := range stale {
		holder := j.WorkerID
		j.RecordFailure(staleError, r.backoff, time.Now().UTC())

		// Conditional on the stale job's own holder: if that worker woke up
		// and finalized in the meantime, this write is a no-op.
		applied, err := r.store.FinalizeJob(ctx, j, holder)
		if err != nil {
			r.logger.Error("failed to reclaim stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !applied {
			continue
		}

		reclaimed++
		r.logger.Warn("reclaimed stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("worker_id", holder.String()),
			slog.String("status", string(j.Status)),
			slog.Int("attempt_count", j.AttemptCount),
		)
	}
	return reclaimed
}
