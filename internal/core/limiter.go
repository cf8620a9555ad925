package core

// limiter.go bounds how many structure applies and event imports run in
// parallel. Each job holds a pool connection and potentially a long
// transaction, so the cap protects the database rather than the CPU.
// Acquire waits up to maxWait for a slot before failing, and Drain
// lets shutdown hold until running jobs finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when no job slot frees up within the wait
// window. Callers should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent jobs, please try again later")

const (
	// DefaultMaxConcurrentJobs caps parallel applies and imports.
	DefaultMaxConcurrentJobs = 4

	// DefaultJobWait is how long Acquire waits for a slot.
	DefaultJobWait = 15 * time.Second
)

// JobLimiter is a semaphore over long-running import jobs.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	active int
}

// NewJobLimiter creates a limiter for at most maxConcurrent jobs.
// Non-positive arguments fall back to the defaults.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultJobWait
	}
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a job slot, waiting up to the configured window. It
// returns ErrTooManyJobs on timeout and the context error if the caller
// goes away first. Every successful Acquire needs a matching Release.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyJobs
	}
}

// TryAcquire takes a slot without waiting.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot. Call exactly once per successful acquire.
func (l *JobLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

// Active returns how many jobs currently hold a slot.
func (l *JobLimiter) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Capacity returns the slot count.
func (l *JobLimiter) Capacity() int {
	return cap(l.slots)
}

// Free returns how many slots are open.
func (l *JobLimiter) Free() int {
	return cap(l.slots) - len(l.slots)
}

// LimiterStatus is a point-in-time view for health endpoints.
type LimiterStatus struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
	Free     int `json:"free"`
}

// Status snapshots the limiter.
func (l *JobLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:   l.Active(),
		Capacity: l.Capacity(),
		Free:     l.Free(),
	}
}

// Drain blocks until every job releases its slot or the context ends.
// Shutdown calls this after closing the intake.
func (l *JobLimiter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}
