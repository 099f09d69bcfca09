package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/batonq/baton/backoff"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
	"github.com/batonq/baton/metrics"
	"github.com/batonq/baton/middleware"
	"github.com/batonq/baton/store/memory"
	"github.com/batonq/baton/worker"
)

type fixture struct {
	store    *memory.Store
	registry *job.Registry
	agg      *metrics.Aggregator
	executor *worker.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		registry: job.NewRegistry(),
		agg:      metrics.New(),
	}
	f.executor = worker.NewExecutor(
		f.registry,
		f.store,
		f.agg,
		backoff.DefaultStrategy(),
		slog.Default(),
		middleware.Recover(slog.Default()),
	)
	return f
}

// submitAndClaim enqueues one job and claims it for the given worker.
func (f *fixture) submitAndClaim(t *testing.T, jobType string, maxAttempts int, wid id.WorkerID) *job.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.CreateJob(ctx, job.New(jobType, "", maxAttempts, "")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	claimed, err := f.store.ClaimNextJob(ctx, wid)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: %v %v", claimed, err)
	}
	return claimed
}

func TestExecutor_Success(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("ok", func(_ context.Context, _ string) error { return nil })

	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "ok", 3, wid)

	if err := f.executor.Execute(context.Background(), claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetJob(context.Background(), claimed.ID)
	if got.Status != job.StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", got.AttemptCount)
	}
	if f.agg.ProcessedLastMinute() != 1 {
		t.Errorf("ProcessedLastMinute = %d, want 1", f.agg.ProcessedLastMinute())
	}
}

func TestExecutor_FailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("flaky", func(_ context.Context, _ string) error {
		return errors.New("transient")
	})

	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "flaky", 3, wid)
	before := time.Now().UTC()

	if err := f.executor.Execute(context.Background(), claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetJob(context.Background(), claimed.ID)
	if got.Status != job.StatusQueued {
		t.Fatalf("Status = %q, want queued", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
	if got.LastError != "transient" {
		t.Errorf("LastError = %q, want %q", got.LastError, "transient")
	}
	if !got.RunAt.After(before) {
		t.Errorf("RunAt %v should be strictly after %v", got.RunAt, before)
	}
	if f.agg.FailuresByJobType()["flaky"] != 1 {
		t.Errorf("failures[flaky] = %d, want 1", f.agg.FailuresByJobType()["flaky"])
	}
}

func TestExecutor_DeadLetterAfterFinalAttempt(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("doomed", func(_ context.Context, _ string) error {
		return errors.New("permanent")
	})

	ctx := context.Background()
	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "doomed", 1, wid)

	if err := f.executor.Execute(ctx, claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetJob(ctx, claimed.ID)
	if got.Status != job.StatusDeadLettered {
		t.Fatalf("Status = %q, want dead_lettered", got.Status)
	}
	if got.AttemptCount != got.MaxAttempts {
		t.Errorf("AttemptCount = %d, want MaxAttempts %d", got.AttemptCount, got.MaxAttempts)
	}

	// Exhausted jobs are no longer claimable.
	next, err := f.store.ClaimNextJob(ctx, wid)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatalf("dead-lettered job was claimed: %+v", next)
	}
}

func TestExecutor_UnknownTypeIsFailure(t *testing.T) {
	f := newFixture(t)

	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "never-registered", 3, wid)

	if err := f.executor.Execute(context.Background(), claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetJob(context.Background(), claimed.ID)
	if got.Status != job.StatusQueued {
		t.Fatalf("Status = %q, want queued (failure routed through retry)", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
	if got.LastError == "" {
		t.Error("expected a recorded error message for unknown job type")
	}
}

func TestExecutor_PanicRoutedThroughRetry(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("panicky", func(_ context.Context, _ string) error {
		panic("boom")
	})

	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "panicky", 3, wid)

	if err := f.executor.Execute(context.Background(), claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetJob(context.Background(), claimed.ID)
	if got.Status != job.StatusQueued {
		t.Fatalf("Status = %q, want queued", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
}

func TestExecutor_FinalizeSkippedAfterReclaim(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("slow", func(_ context.Context, _ string) error { return nil })

	ctx := context.Background()
	wid := id.NewWorkerID()
	claimed := f.submitAndClaim(t, "slow", 3, wid)

	// Simulate the reaper reclaiming the job mid-execution: the stored row
	// leaves RUNNING-under-wid before the executor finalizes.
	reclaim := *claimed
	reclaim.RecordFailure("Stale RUNNING (timeout)", backoff.DefaultStrategy(), time.Now().UTC())
	if applied, err := f.store.FinalizeJob(ctx, &reclaim, wid); err != nil || !applied {
		t.Fatalf("setup reclaim: applied=%v err=%v", applied, err)
	}

	if err := f.executor.Execute(ctx, claimed, wid); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The executor's success write must not overwrite the reclaim.
	got, _ := f.store.GetJob(ctx, claimed.ID)
	if got.Status != job.StatusQueued {
		t.Errorf("Status = %q, want queued from reclaim", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1 from reclaim", got.AttemptCount)
	}
}
