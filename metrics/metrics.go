// Package metrics implements the process-local execution counters fed by
// workers. The aggregator is purely derived state: it resets on restart and
// is never consulted for scheduling decisions. Durable aggregates come from
// the store's grouped count queries instead.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/batonq/baton/job"
)

// windowSeconds is the span of the trailing completion window.
const windowSeconds = 60

// secondBucket is one slot of the per-second completion ring. A bucket is
// reset lazily the first time it is touched in a new second; stale buckets
// are excluded on read by comparing their epoch second against now.
type secondBucket struct {
	mu       sync.Mutex
	epochSec int64
	count    int64
}

// typeCounters accumulates per-job-type tallies. Counters only grow, so
// atomics are enough; no lock couples one job type to another.
type typeCounters struct {
	failures      atomic.Int64
	durationNanos atomic.Int64
	durationCount atomic.Int64
}

// Aggregator counts job completions across all workers in one process.
// Safe for concurrent use; increments on distinct job types and distinct
// ring buckets never contend on a shared lock.
type Aggregator struct {
	buckets [windowSeconds]secondBucket

	mu     sync.RWMutex
	byType map[string]*typeCounters

	now func() time.Time
}

// New creates an empty aggregator on the wall clock.
func New() *Aggregator {
	return NewWithClock(time.Now)
}

// NewWithClock creates an aggregator on an injectable clock.
func NewWithClock(now func() time.Time) *Aggregator {
	return &Aggregator{
		byType: make(map[string]*typeCounters),
		now:    now,
	}
}

// RecordSuccess counts a successful completion of jobType that took the
// given wall-clock duration.
func (a *Aggregator) RecordSuccess(jobType string, duration time.Duration) {
	a.record(jobType, duration, true)
}

// RecordFailure counts a failed completion of jobType that took the given
// wall-clock duration.
func (a *Aggregator) RecordFailure(jobType string, duration time.Duration) {
	a.record(jobType, duration, false)
}

func (a *Aggregator) record(jobType string, duration time.Duration, success bool) {
	c := a.counters(normalize(jobType))

	a.recordProcessed()

	if duration < 0 {
		duration = 0
	}
	c.durationNanos.Add(int64(duration))
	c.durationCount.Add(1)

	if !success {
		c.failures.Add(1)
	}
}

func (a *Aggregator) recordProcessed() {
	nowSec := a.now().Unix()
	b := &a.buckets[nowSec%windowSeconds]

	b.mu.Lock()
	if b.epochSec != nowSec {
		b.epochSec = nowSec
		b.count = 0
	}
	b.count++
	b.mu.Unlock()
}

// ProcessedLastMinute returns the number of completions, successes and
// failures alike, recorded in the trailing 60-second window.
func (a *Aggregator) ProcessedLastMinute() int64 {
	nowSec := a.now().Unix()

	var total int64
	for i := range a.buckets {
		b := &a.buckets[i]
		b.mu.Lock()
		if nowSec-b.epochSec < windowSeconds {
			total += b.count
		}
		b.mu.Unlock()
	}
	return total
}

// FailuresByJobType returns cumulative failure counts keyed by job type.
func (a *Aggregator) FailuresByJobType() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[string]int64, len(a.byType))
	for jobType, c := range a.byType {
		if n := c.failures.Load(); n > 0 {
			result[jobType] = n
		}
	}
	return result
}

// AvgDurationSecondsByJobType returns the mean execution duration in
// seconds per job type, computed on read from the cumulative sums.
func (a *Aggregator) AvgDurationSecondsByJobType() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[string]float64, len(a.byType))
	for jobType, c := range a.byType {
		count := c.durationCount.Load()
		if count == 0 {
			continue
		}
		result[jobType] = float64(c.durationNanos.Load()) / float64(time.Second) / float64(count)
	}
	return result
}

// counters returns the counter set for a job type, creating it on first use.
func (a *Aggregator) counters(jobType string) *typeCounters {
	a.mu.RLock()
	c, ok := a.byType[jobType]
	a.mu.RUnlock()
	if ok {
		return c
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok = a.byType[jobType]; ok {
		return c
	}
	c = &typeCounters{}
	a.byType[jobType] = c
	return c
}

func normalize(jobType string) string {
	if jobType == "" {
		return job.UnknownType
	}
	return jobType
}
