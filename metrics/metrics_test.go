package metrics

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/batonq/baton/job"
)

func TestAggregator_CountsFailuresAndAverageDuration(t *testing.T) {
	a := New()

	if got := a.ProcessedLastMinute(); got != 0 {
		t.Fatalf("ProcessedLastMinute = %d on empty aggregator", got)
	}

	a.RecordSuccess("sleep", 2*time.Second)
	a.RecordSuccess("sleep", 4*time.Second)
	a.RecordFailure("fail", 1*time.Second)

	if got := a.ProcessedLastMinute(); got != 3 {
		t.Errorf("ProcessedLastMinute = %d, want 3", got)
	}

	failures := a.FailuresByJobType()
	if failures["fail"] != 1 {
		t.Errorf("failures[fail] = %d, want 1", failures["fail"])
	}
	if _, ok := failures["sleep"]; ok {
		t.Error("successful type should not appear in failure counts")
	}

	avg := a.AvgDurationSecondsByJobType()
	if math.Abs(avg["sleep"]-3.0) > 0.0001 {
		t.Errorf("avg[sleep] = %f, want 3.0", avg["sleep"])
	}
	if math.Abs(avg["fail"]-1.0) > 0.0001 {
		t.Errorf("avg[fail] = %f, want 1.0", avg["fail"])
	}
}

func TestAggregator_WindowExcludesOldBuckets(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	a := NewWithClock(func() time.Time { return now })

	a.RecordSuccess("t", time.Second)
	a.RecordSuccess("t", time.Second)

	if got := a.ProcessedLastMinute(); got != 2 {
		t.Fatalf("ProcessedLastMinute = %d, want 2", got)
	}

	// 59 seconds later the old bucket is still inside the window.
	now = now.Add(59 * time.Second)
	if got := a.ProcessedLastMinute(); got != 2 {
		t.Errorf("after 59s: ProcessedLastMinute = %d, want 2", got)
	}

	// 61 seconds later it is excluded by timestamp comparison alone.
	now = now.Add(2 * time.Second)
	if got := a.ProcessedLastMinute(); got != 0 {
		t.Errorf("after 61s: ProcessedLastMinute = %d, want 0", got)
	}

	// Cumulative per-type counters are not windowed.
	avg := a.AvgDurationSecondsByJobType()
	if math.Abs(avg["t"]-1.0) > 0.0001 {
		t.Errorf("avg[t] = %f, want 1.0", avg["t"])
	}
}

func TestAggregator_LazyBucketReset(t *testing.T) {
	now := time.Unix(2_000_000, 0)
	a := NewWithClock(func() time.Time { return now })

	a.RecordSuccess("t", 0)

	// Exactly one ring revolution later the same slot is reused; the old
	// count must be discarded, not added to.
	now = now.Add(60 * time.Second)
	a.RecordSuccess("t", 0)

	if got := a.ProcessedLastMinute(); got != 1 {
		t.Errorf("ProcessedLastMinute = %d, want 1 after bucket reuse", got)
	}
}

func TestAggregator_NormalizesBlankType(t *testing.T) {
	a := New()
	a.RecordFailure("", time.Second)

	failures := a.FailuresByJobType()
	if failures[job.UnknownType] != 1 {
		t.Errorf("failures[%q] = %d, want 1", job.UnknownType, failures[job.UnknownType])
	}
}

func TestAggregator_NegativeDurationClamped(t *testing.T) {
	a := New()
	a.RecordSuccess("t", -5*time.Second)

	avg := a.AvgDurationSecondsByJobType()
	if avg["t"] != 0 {
		t.Errorf("avg[t] = %f, want 0 for clamped negative duration", avg["t"])
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	a := New()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if i%2 == 0 {
					a.RecordSuccess("even", time.Millisecond)
				} else {
					a.RecordFailure("odd", time.Millisecond)
				}
			}
		}(g)
	}
	wg.Wait()

	want := int64(goroutines * perGoroutine)
	if got := a.ProcessedLastMinute(); got != want {
		t.Errorf("ProcessedLastMinute = %d, want %d", got, want)
	}
	if got := a.FailuresByJobType()["odd"]; got != want/2 {
		t.Errorf("failures[odd] = %d, want %d", got, want/2)
	}
}
