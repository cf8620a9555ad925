package core

// service.go wires the pool, the store, the job limiter, and the backup
// store into one Service. Long-running work (structure applies, event
// imports) runs as background jobs tracked in the jobs map; jobs.go
// owns their lifecycle.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// JobTimeout is the maximum duration for a background apply or import.
var JobTimeout = 10 * time.Minute

// jobCleanupDelay is how long finished jobs stay queryable before the
// tracker forgets them.
var jobCleanupDelay = 5 * time.Minute

// BackupInfo describes one written backup workbook.
type BackupInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// BackupStore persists structure backups as workbooks. The concrete
// writer lives outside this package so workbook rendering stays with
// the sheet code.
type BackupStore interface {
	Write(ctx context.Context, userID uuid.UUID, snap *Snapshot) (BackupInfo, error)
	List(userID uuid.UUID) ([]BackupInfo, error)
	Sweep(olderThan time.Duration) (int, error)
}

// Service provides the business logic over structures and events.
type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	backups BackupStore
	limiter *JobLimiter
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*applyJob
}

// NewService creates a Service over the pool. A nil backups store
// disables backups, which blocks destructive applies unless the caller
// opts out per call. A nil logger falls back to slog.Default.
func NewService(pool *pgxpool.Pool, backups BackupStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:    pool,
		store:   NewStore(pool),
		backups: backups,
		limiter: NewJobLimiter(DefaultMaxConcurrentJobs, DefaultJobWait),
		logger:  logger,
		jobs:    make(map[uuid.UUID]*applyJob),
	}
}

// SetJobLimits resizes the job limiter. Call before serving traffic;
// jobs already holding a slot keep it.
func (s *Service) SetJobLimits(maxConcurrent int, maxWait time.Duration) {
	s.limiter = NewJobLimiter(maxConcurrent, maxWait)
}

// Ping verifies database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("no database pool")
	}
	return s.pool.Ping(ctx)
}

// LimiterStatus reports job slot usage for the health endpoint.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Snapshot loads the user's full structure, one concurrent query per
// entity kind.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	var (
		areas []Area
		cats  []Category
		attrs []AttributeDefinition
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		areas, err = s.store.ListAreas(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		cats, err = s.store.ListCategories(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		attrs, err = s.store.ListAttributes(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load structure snapshot: %w", err)
	}
	return NewSnapshot(areas, cats, attrs), nil
}

// PreviewStructure builds a change set from an uploaded hierarchical
// sheet and annotates pending deletions with the number of events each
// one takes along. The snapshot comes back with the change set so a
// following apply can reuse it.
func (s *Service) PreviewStructure(ctx context.Context, userID uuid.UUID, sheet *HierarchicalSheet, opts BuildOptions) (*ChangeSet, *Snapshot, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	cs := BuildChangeSet(sheet, snap, opts)
	if err := s.fillAffectedEvents(ctx, userID, snap, cs); err != nil {
		return nil, nil, err
	}
	return cs, snap, nil
}

// fillAffectedEvents resolves per-entity event counts for pending
// deletions. Category counts cover the whole subtree because the
// foreign keys cascade.
func (s *Service) fillAffectedEvents(ctx context.Context, userID uuid.UUID, snap *Snapshot, cs *ChangeSet) error {
	if cs.Deletes() == 0 {
		return nil
	}

	areaIDs := make([]uuid.UUID, len(cs.DeletedAreas))
	for i, d := range cs.DeletedAreas {
		areaIDs[i] = d.ID
	}
	var catIDs []uuid.UUID
	subtrees := make(map[uuid.UUID][]uuid.UUID, len(cs.DeletedCategories))
	for _, d := range cs.DeletedCategories {
		ids := snap.SubtreeIDs(d.ID)
		subtrees[d.ID] = ids
		catIDs = append(catIDs, ids...)
	}
	attrIDs := make([]uuid.UUID, len(cs.DeletedAttributes))
	for i, d := range cs.DeletedAttributes {
		attrIDs[i] = d.ID
	}

	var (
		byArea map[uuid.UUID]int64
		byCat  map[uuid.UUID]int64
		byAttr map[uuid.UUID]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byArea, err = s.store.EventCountsByArea(gctx, userID, areaIDs)
		return err
	})
	g.Go(func() error {
		var err error
		byCat, err = s.store.EventCountsByCategory(gctx, userID, catIDs)
		return err
	})
	g.Go(func() error {
		var err error
		byAttr, err = s.store.EventCountsByAttribute(gctx, userID, attrIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range cs.DeletedAreas {
		cs.DeletedAreas[i].Events = byArea[cs.DeletedAreas[i].ID]
	}
	for i := range cs.DeletedCategories {
		var total int64
		for _, id := range subtrees[cs.DeletedCategories[i].ID] {
			total += byCat[id]
		}
		cs.DeletedCategories[i].Events = total
	}
	for i := range cs.DeletedAttributes {
		cs.DeletedAttributes[i].Events = byAttr[cs.DeletedAttributes[i].ID]
	}
	return nil
}

// Backups lists the user's backup workbooks.
func (s *Service) Backups(userID uuid.UUID) ([]BackupInfo, error) {
	if s.backups == nil {
		return nil, nil
	}
	return s.backups.List(userID)
}

// Shutdown cancels running jobs and waits for them to drain. Call with
// a deadline so a wedged job cannot hold the process open.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Cancel != nil {
			job.Cancel()
		}
	}
	s.mu.Unlock()
	return s.limiter.Drain(ctx)
}
