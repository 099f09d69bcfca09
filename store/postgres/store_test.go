//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/batonq/baton"
	"github.com/batonq/baton/id"
	"github.com/batonq/baton/job"
	"github.com/batonq/baton/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("baton_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second migrate should be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Job row tests
// ──────────────────────────────────────────────────

func TestCreateAndGetJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("send-email", `{"to":"a@b.c"}`, 3, "")
	created, err := s.CreateJob(ctx, j)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.ID.String() != j.ID.String() {
		t.Errorf("id = %s, want %s", created.ID, j.ID)
	}

	fetched, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fetched.Type != "send-email" || fetched.Status != job.StatusQueued {
		t.Errorf("fetched = %+v", fetched)
	}
	if fetched.Payload != `{"to":"a@b.c"}` {
		t.Errorf("payload = %q", fetched.Payload)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, baton.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestCreateJob_IdempotencyKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.CreateJob(ctx, job.New("t", "", 3, "order-42"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, err := s.CreateJob(ctx, job.New("t", "", 3, "order-42"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID.String() != first.ID.String() {
		t.Errorf("duplicate key produced a new row: %s vs %s", second.ID, first.ID)
	}

	// Distinct keys create distinct rows.
	third, err := s.CreateJob(ctx, job.New("t", "", 3, "order-43"))
	if err != nil {
		t.Fatalf("third create: %v", err)
	}
	if third.ID.String() == first.ID.String() {
		t.Error("distinct key reused an existing row")
	}
}

func TestClaimNextJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	older := job.New("t", "", 3, "")
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	if _, err := s.CreateJob(ctx, older); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
		t.Fatal(err)
	}

	wid := id.NewWorkerID()
	claimed, err := s.ClaimNextJob(ctx, wid)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil {
		t.Fatal("claim returned nil for a non-empty queue")
	}
	if claimed.ID.String() != older.ID.String() {
		t.Errorf("claimed %s, want oldest %s", claimed.ID, older.ID)
	}
	if claimed.Status != job.StatusRunning || claimed.WorkerID.String() != wid.String() {
		t.Errorf("claimed = %+v, want running under %s", claimed, wid)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt not set on claim")
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := setupTestStore(t)

	claimed, err := s.ClaimNextJob(context.Background(), id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed %v from an empty queue", claimed)
	}
}

func TestClaimNextJob_SkipsFutureRunAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("t", "", 3, "")
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if _, err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimNextJob(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed a job scheduled for the future: %v", claimed)
	}
}

func TestClaimNextJob_NoDoubleClaim(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
			t.Fatal(err)
		}
	}

	type result struct {
		id  string
		err error
	}
	results := make(chan result, jobs+8)

	claim := func() {
		wid := id.NewWorkerID()
		for {
			j, err := s.ClaimNextJob(ctx, wid)
			if err != nil {
				results <- result{err: err}
				return
			}
			if j == nil {
				return
			}
			results <- result{id: j.ID.String()}
		}
	}

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			claim()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	close(results)

	seen := make(map[string]int)
	for r := range results {
		if r.err != nil {
			t.Fatalf("claim: %v", r.err)
		}
		seen[r.id]++
	}
	if len(seen) != jobs {
		t.Errorf("claimed %d distinct jobs, want %d", len(seen), jobs)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func TestFinalizeJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
		t.Fatal(err)
	}
	wid := id.NewWorkerID()
	claimed, err := s.ClaimNextJob(ctx, wid)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	claimed.MarkSucceeded(time.Now().UTC())
	applied, err := s.FinalizeJob(ctx, claimed, wid)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !applied {
		t.Fatal("finalize reported not applied for the holding worker")
	}

	stored, err := s.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != job.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", stored.Status)
	}
}

func TestFinalizeJob_StaleWorkerIsNoOp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
		t.Fatal(err)
	}
	wid := id.NewWorkerID()
	claimed, err := s.ClaimNextJob(ctx, wid)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	claimed.MarkSucceeded(time.Now().UTC())
	applied, err := s.FinalizeJob(ctx, claimed, id.NewWorkerID())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if applied {
		t.Fatal("finalize applied under a worker that does not hold the job")
	}

	stored, err := s.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != job.StatusRunning {
		t.Errorf("status = %s, want running after rejected finalize", stored.Status)
	}
}

// ──────────────────────────────────────────────────
// Dead-letter tests
// ──────────────────────────────────────────────────

// stageDeadLetter inserts a row already in dead_lettered status.
func stageDeadLetter(t *testing.T, s *postgres.Store, updatedAt time.Time) *job.Job {
	t.Helper()
	j := job.New("t", "", 3, "")
	j.Status = job.StatusDeadLettered
	j.AttemptCount = 3
	j.LastError = "boom"
	j.UpdatedAt = updatedAt
	created, err := s.CreateJob(context.Background(), j)
	if err != nil {
		t.Fatalf("stage dead letter: %v", err)
	}
	return created
}

func TestRequeueDeadLetter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dead := stageDeadLetter(t, s, time.Now().UTC())

	requeued, err := s.RequeueDeadLetter(ctx, dead.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != job.StatusQueued || requeued.AttemptCount != 0 || requeued.LastError != "" {
		t.Errorf("requeued = %+v, want queued with a fresh budget", requeued)
	}
}

func TestRequeueDeadLetter_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.RequeueDeadLetter(context.Background(), id.NewJobID())
	if !errors.Is(err, baton.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRequeueDeadLetter_WrongStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("t", "", 3, "")
	if _, err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	_, err := s.RequeueDeadLetter(ctx, j.ID)
	if !errors.Is(err, baton.ErrJobNotDeadLettered) {
		t.Fatalf("err = %v, want ErrJobNotDeadLettered", err)
	}
}

func TestRequeueDeadLetters_OldestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var staged []*job.Job
	for i := 0; i < 5; i++ {
		staged = append(staged, stageDeadLetter(t, s, base.Add(time.Duration(i)*time.Minute)))
	}

	count, err := s.RequeueDeadLetters(ctx, 3)
	if err != nil {
		t.Fatalf("bulk requeue: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	for i, dead := range staged {
		stored, err := s.GetJob(ctx, dead.ID)
		if err != nil {
			t.Fatal(err)
		}
		wantQueued := i < 3
		if (stored.Status == job.StatusQueued) != wantQueued {
			t.Errorf("job %d status = %s, want queued=%v", i, stored.Status, wantQueued)
		}
	}
}

// ──────────────────────────────────────────────────
// Stale recovery and stats tests
// ──────────────────────────────────────────────────

func TestFindStaleRunning(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimNextJob(ctx, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	// A cutoff before the claim finds nothing.
	stale, err := s.FindStaleRunning(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("found %d stale jobs, want 0", len(stale))
	}

	// A cutoff after the claim finds the running row.
	stale, err = s.FindStaleRunning(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID.String() != claimed.ID.String() {
		t.Fatalf("stale = %v, want the claimed job", stale)
	}
}

func TestStatusAndAttemptCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
			t.Fatal(err)
		}
	}
	wid := id.NewWorkerID()
	if _, err := s.ClaimNextJob(ctx, wid); err != nil {
		t.Fatal(err)
	}

	counts, err := s.StatusCounts(ctx, nil)
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[job.StatusQueued] != 2 || counts[job.StatusRunning] != 1 {
		t.Errorf("counts = %v", counts)
	}

	byWorker, err := s.WorkerStatusCounts(ctx, nil)
	if err != nil {
		t.Fatalf("worker counts: %v", err)
	}
	if byWorker[wid.String()][job.StatusRunning] != 1 {
		t.Errorf("byWorker = %v", byWorker)
	}

	attempts, err := s.AttemptCounts(ctx)
	if err != nil {
		t.Fatalf("attempt counts: %v", err)
	}
	if attempts[0] != 3 {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestScheduledRetryCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateJob(ctx, job.New("t", "", 3, "")); err != nil {
		t.Fatal(err)
	}
	future := job.New("t", "", 3, "")
	future.RunAt = time.Now().UTC().Add(time.Hour)
	if _, err := s.CreateJob(ctx, future); err != nil {
		t.Fatal(err)
	}

	count, err := s.ScheduledRetryCount(ctx)
	if err != nil {
		t.Fatalf("scheduled retry count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
