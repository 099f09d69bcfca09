package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/batonq/baton"
)

// rateWindow is the span of one fixed counting window.
const rateWindow = time.Minute

// counter is one client's tally inside the current window. The window
// resets lazily on the first request after it elapses.
type counter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int64
}

// RateLimiter throttles mutating requests per client with a fixed
// one-minute window. Submissions and requeues draw on separate budgets so
// an operator draining the dead-letter queue is not starved by submitters.
type RateLimiter struct {
	jobsPerMinute    int64
	requeuePerMinute int64

	mu       sync.Mutex
	jobs     map[string]*counter
	requeues map[string]*counter

	now func() time.Time
}

// NewRateLimiter creates a limiter from config.
func NewRateLimiter(cfg baton.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		jobsPerMinute:    cfg.JobsPerMinute,
		requeuePerMinute: cfg.RequeuePerMinute,
		jobs:             make(map[string]*counter),
		requeues:         make(map[string]*counter),
		now:              time.Now,
	}
}

// Middleware throttles POST /jobs against the submission budget and any
// POST ending in /requeue against the requeue budget. Everything else
// passes through untouched.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		path := r.URL.Path

		switch {
		case path == "/jobs" || path == "/jobs/":
			if l.limited(l.jobs, key, l.jobsPerMinute) {
				rejectThrottled(w, "Rate limit exceeded for POST /jobs")
				return
			}
		case strings.HasSuffix(path, "/requeue"):
			if l.limited(l.requeues, key, l.requeuePerMinute) {
				rejectThrottled(w, "Rate limit exceeded for requeue")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// limited counts one request against the client's window and reports
// whether it exceeded the budget.
func (l *RateLimiter) limited(counters map[string]*counter, key string, limit int64) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := counters[key]
	if !ok {
		c = &counter{windowStart: now}
		counters[key] = c
	}
	l.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.windowStart) >= rateWindow {
		c.windowStart = now
		c.count = 0
	}
	c.count++
	return c.count > limit
}

// clientKey identifies the caller: the first X-Forwarded-For hop when
// present, else the remote address without its port.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rejectThrottled(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(message))
}
