package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
)

// Supervisor is one worker actor: a periodically-ticking loop that claims
// at most one job per tick and executes it synchronously. The tick body
// runs inline in the loop goroutine, so ticks never overlap and the worker
// holds at most one job in flight.
type Supervisor struct {
	store        job.Store
	executor     *Executor
	workerID     id.WorkerID
	pollInterval time.Duration
	logger       *slog.Logger
	draining     *atomic.Bool
}

// WorkerID returns the supervisor's unique worker identity.
func (s *Supervisor) WorkerID() id.WorkerID { return s.workerID }

// run loops until stopCh closes. In-flight work always finishes: the stop
// signal is only observed between ticks, never mid-execution.
func (s *Supervisor) run(stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick attempts one claim-and-execute cycle. A draining process performs
// no claim at all; a previously queued job stays queued untouched.
func (s *Supervisor) tick() {
	if s.draining.Load() {
		return
	}

	ctx := context.Background()

	j, err := s.store.ClaimNextJob(ctx, s.workerID)
	if err != nil {
		// Abort this tick; the claim is atomic so the row is still queued.
		s.logger.Error("claim failed",
			slog.String("worker_id", s.workerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if j == nil {
		return
	}

	if err := s.executor.Execute(ctx, j, s.workerID); err != nil {
		s.logger.Error("execution tick aborted on store fault",
			slog.String("worker_id", s.workerID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Pool manages a set of supervisor actors sharing one store and executor.
// Each supervisor has its own worker identity; the store's claim primitive
// is the only synchronization between them.
type Pool struct {
	store        job.Store
	executor     *Executor
	count        int
	pollInterval time.Duration
	logger       *slog.Logger

	draining    atomic.Bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	supervisors []*Supervisor
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkerCount sets the number of supervisor actors.
func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) { p.count = n }
}

// WithPollInterval sets each supervisor's tick interval.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		count:        4,
		pollInterval: 2 * time.Second,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerIDs returns the identity of every supervisor in the pool.
func (p *Pool) WorkerIDs() []id.WorkerID {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]id.WorkerID, len(p.supervisors))
	for i, s := range p.supervisors {
		ids[i] = s.workerID
	}
	return ids
}

// Start launches the supervisor actors. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("workers", p.count),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.count {
		s := &Supervisor{
			store:        p.store,
			executor:     p.executor,
			workerID:     id.NewWorkerID(),
			pollInterval: p.pollInterval,
			logger:       p.logger,
			draining:     &p.draining,
		}
		p.supervisors = append(p.supervisors, s)
		p.wg.Add(1)
		go s.run(p.stopCh, &p.wg)
	}

	return nil
}

// Drain stops new claims while letting in-flight jobs finish. Safe to call
// before Stop so the shutdown deadline is spent on draining, not claiming.
func (p *Pool) Drain() {
	p.draining.Store(true)
}

// Stop drains the pool and waits for every supervisor to finish its
// current job. If the context expires first, Stop returns without waiting
// further; abandoned RUNNING jobs are the reaper's responsibility.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.Drain()
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown deadline reached with jobs in flight")
		return ctx.Err()
	}
}
