package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestJobLimiterAcquireRelease(t *testing.T) {
	l := NewJobLimiter(2, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if got := l.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}
	if got := l.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}

	l.Release()
	l.Release()
	if got := l.Active(); got != 0 {
		t.Errorf("Active() after release = %d, want 0", got)
	}
}

func TestJobLimiterRejectsWhenFull(t *testing.T) {
	l := NewJobLimiter(1, 50*time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer l.Release()

	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("Acquire() on full limiter = %v, want ErrTooManyJobs", err)
	}
}

func TestJobLimiterTryAcquire(t *testing.T) {
	l := NewJobLimiter(1, time.Second)

	if !l.TryAcquire() {
		t.Fatal("TryAcquire() on empty limiter = false, want true")
	}
	if l.TryAcquire() {
		t.Error("TryAcquire() on full limiter = true, want false")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire() after release = false, want true")
	}
	l.Release()
}

func TestJobLimiterContextCancellation(t *testing.T) {
	l := NewJobLimiter(1, time.Minute)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() with cancelled context = %v, want context.Canceled", err)
	}
}

func TestJobLimiterUnblocksWaiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewJobLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Acquire(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Errorf("waiting Acquire() = %v, want nil after release", err)
		}
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire() did not unblock after Release()")
	}
}

func TestJobLimiterConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewJobLimiter(3, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				return
			}
			mu.Lock()
			if a := l.Active(); a > peak {
				peak = a
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			l.Release()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak active jobs = %d, want at most 3", peak)
	}
	if got := l.Active(); got != 0 {
		t.Errorf("Active() after drain = %d, want 0", got)
	}
}

func TestJobLimiterDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewJobLimiter(2, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Drain(ctx); err != nil {
		t.Errorf("Drain() = %v, want nil once jobs finish", err)
	}
}

func TestJobLimiterDrainTimeout(t *testing.T) {
	l := NewJobLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Drain(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain() with held slot = %v, want context.DeadlineExceeded", err)
	}
}

func TestJobLimiterDefaults(t *testing.T) {
	l := NewJobLimiter(0, 0)
	if got := l.Capacity(); got != DefaultMaxConcurrentJobs {
		t.Errorf("Capacity() = %d, want %d", got, DefaultMaxConcurrentJobs)
	}
	if l.maxWait != DefaultJobWait {
		t.Errorf("maxWait = %v, want %v", l.maxWait, DefaultJobWait)
	}
}

func TestJobLimiterStatus(t *testing.T) {
	l := NewJobLimiter(2, time.Second)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire() = false, want true")
	}
	defer l.Release()

	got := l.Status()
	want := LimiterStatus{Active: 1, Capacity: 2, Free: 1}
	if got != want {
		t.Errorf("Status() = %+v, want %+v", got, want)
	}
}
