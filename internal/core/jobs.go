package core

// jobs.go runs structure applies and workbook imports as background
// jobs. A job holds a limiter slot for its whole life, reports progress
// to subscribers over buffered channels, and stays queryable for a
// grace period after it finishes so a reconnecting client can still
// fetch the result.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type applyJob struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	FileName string
	Cancel   context.CancelFunc
	Result   *ApplyResult
	Done     chan struct{}

	// ListenerMu guards Progress and Listeners together so an update
	// and its fan-out are atomic.
	ListenerMu sync.Mutex
	Progress   ApplyProgress
	Listeners  []chan ApplyProgress
}

// update mutates the job's progress and fans it out. Slow listeners
// miss updates instead of blocking the job.
func (j *applyJob) update(mutate func(*ApplyProgress)) {
	j.ListenerMu.Lock()
	defer j.ListenerMu.Unlock()

	mutate(&j.Progress)
	for _, ch := range j.Listeners {
		select {
		case ch <- j.Progress:
		default:
		}
	}
}

func (j *applyJob) snapshot() ApplyProgress {
	j.ListenerMu.Lock()
	defer j.ListenerMu.Unlock()
	return j.Progress
}

func (j *applyJob) closeListeners() {
	j.ListenerMu.Lock()
	defer j.ListenerMu.Unlock()

	for _, ch := range j.Listeners {
		close(ch)
	}
	j.Listeners = nil
}

// startJob acquires a limiter slot, registers a job, and runs fn in the
// background. fn receives the job's ID and a ProgressCallback that
// feeds subscribers.
func (s *Service) startJob(ctx context.Context, userID uuid.UUID, fileName string, totalSteps int, fn func(ctx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error)) (uuid.UUID, error) {
	// Hold the limiter that granted the slot; SetJobLimits may swap
	// s.limiter while this job runs.
	limiter := s.limiter
	if err := limiter.Acquire(ctx); err != nil {
		return uuid.Nil, err
	}

	jobID := uuid.New()
	jobCtx, cancel := context.WithTimeout(context.Background(), JobTimeout)

	job := &applyJob{
		ID:       jobID,
		UserID:   userID,
		FileName: fileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		Progress: ApplyProgress{
			JobID:      jobID.String(),
			Phase:      PhaseStarting,
			FileName:   fileName,
			TotalSteps: totalSteps,
		},
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	go func() {
		defer limiter.Release()
		defer cancel()
		s.runJob(jobCtx, job, fn)
	}()

	return jobID, nil
}

func (s *Service) runJob(ctx context.Context, job *applyJob, fn func(ctx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error)) {
	started := time.Now()

	// The deferred block also absorbs panics from fn, so Done always
	// closes exactly once and the limiter slot is never stranded.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in background job",
				"job_id", job.ID,
				"file", job.FileName,
				"panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			job.update(func(p *ApplyProgress) {
				p.Phase = PhaseFailed
				p.Error = msg
			})
			job.Result = &ApplyResult{
				JobID:    job.ID.String(),
				FileName: job.FileName,
				Error:    msg,
				Duration: time.Since(started),
			}
		}
		job.closeListeners()
		close(job.Done)
		s.forget(job.ID, jobCleanupDelay)
	}()

	callback := func(p ApplyProgress) {
		job.update(func(dst *ApplyProgress) { *dst = p })
	}

	result, err := fn(ctx, job.ID, callback)
	if err != nil {
		phase := PhaseFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			phase = PhaseCancelled
		}
		job.update(func(p *ApplyProgress) {
			p.Phase = phase
			p.Error = err.Error()
		})
		job.Result = &ApplyResult{
			JobID:    job.ID.String(),
			FileName: job.FileName,
			Error:    err.Error(),
			Duration: time.Since(started),
		}
		return
	}

	job.update(func(p *ApplyProgress) {
		p.Phase = PhaseComplete
		p.Applied = result.Applied
		p.Skipped = result.Skipped
		if p.TotalSteps > 0 {
			p.Done = p.TotalSteps
		}
	})
	job.Result = result
}

// forget drops the job from tracking after a delay.
func (s *Service) forget(jobID uuid.UUID, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// ErrJobNotFound marks lookups of jobs that never ran or have already
// been forgotten.
var ErrJobNotFound = errors.New("job not found")

func (s *Service) job(jobID uuid.UUID) (*applyJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// StartApply runs ApplyChangeSet as a background job and returns its ID
// immediately. Subscribe with SubscribeJob, fetch the outcome with
// JobResult.
func (s *Service) StartApply(ctx context.Context, userID uuid.UUID, snap *Snapshot, cs *ChangeSet, opts ApplyOptions) (uuid.UUID, error) {
	return s.startJob(ctx, userID, opts.FileName, cs.Total(), func(jobCtx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error) {
		o := opts
		o.jobID = jobID.String()
		return s.ApplyChangeSet(jobCtx, userID, snap, cs, o, progress)
	})
}

// StartRestore replaces the whole structure with the contents of a
// backup sheet as a background job. The change set is built inside the
// job against a fresh snapshot, and deletes are applied without a
// second confirmation round since restoring is already the recovery
// path.
func (s *Service) StartRestore(ctx context.Context, userID uuid.UUID, sheet *HierarchicalSheet, fileName string) (uuid.UUID, error) {
	return s.startJob(ctx, userID, fileName, 0, func(jobCtx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error) {
		progress(ApplyProgress{JobID: jobID.String(), Phase: PhaseValidating, FileName: fileName})
		cs, snap, err := s.PreviewStructure(jobCtx, userID, sheet, BuildOptions{FullReplace: true})
		if err != nil {
			return nil, err
		}
		return s.ApplyChangeSet(jobCtx, userID, snap, cs, ApplyOptions{
			Confirmed: true,
			FileName:  fileName,
			jobID:     jobID.String(),
			action:    ActionStructureRestore,
		}, progress)
	})
}

// SubscribeJob returns a channel of progress updates for the job. The
// current progress arrives first, and the channel closes when the job
// finishes.
func (s *Service) SubscribeJob(jobID uuid.UUID) (<-chan ApplyProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ApplyProgress, 10)
	job.ListenerMu.Lock()
	job.Listeners = append(job.Listeners, ch)
	select {
	case ch <- job.Progress:
	default:
	}
	job.ListenerMu.Unlock()
	return ch, nil
}

// JobOwner reports which user started the job.
func (s *Service) JobOwner(jobID uuid.UUID) (uuid.UUID, error) {
	job, err := s.job(jobID)
	if err != nil {
		return uuid.Nil, err
	}
	return job.UserID, nil
}

// CancelJob cancels a running job.
func (s *Service) CancelJob(jobID uuid.UUID) error {
	job, err := s.job(jobID)
	if err != nil {
		return err
	}
	job.Cancel()
	return nil
}

// JobProgress returns the job's current progress.
func (s *Service) JobProgress(jobID uuid.UUID) (ApplyProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return ApplyProgress{}, err
	}
	return job.snapshot(), nil
}

// JobResult blocks until the job finishes and returns its result.
func (s *Service) JobResult(ctx context.Context, jobID uuid.UUID) (*ApplyResult, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done:
		return job.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
