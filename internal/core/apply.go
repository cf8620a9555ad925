package core

// apply.go executes a change set against the database. The whole apply
// is one transaction: inserts run parent-first (areas, categories,
// attributes), then field updates, then confirmed deletes child-first.
// A destructive apply writes a backup workbook before the transaction
// opens, and the audit row commits atomically with the changes.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrConfirmationRequired blocks applies whose change set deletes data
// or exceeds the warning threshold before the caller confirmed it.
var ErrConfirmationRequired = errors.New("change set was not confirmed")

// ErrValidationFailed blocks applies whose change set carries errors.
var ErrValidationFailed = errors.New("validation failed, fix the reported rows first")

// ErrBackupUnavailable blocks destructive applies when no backup store
// is configured and the caller did not opt out.
var ErrBackupUnavailable = errors.New("no backup store configured for a destructive apply")

// applyNotifyStep is how many steps pass between progress updates.
const applyNotifyStep = 10

// ApplyOptions controls one apply.
type ApplyOptions struct {
	// Confirmed acknowledges deletions and over-threshold change sets.
	Confirmed bool
	// SkipBackup applies destructive changes without writing a backup.
	SkipBackup bool
	// FileName labels progress, audit entries, and results.
	FileName string

	jobID  string
	action AuditAction
}

type applySummary struct {
	FileName      string `json:"fileName,omitempty"`
	Inserts       int    `json:"inserts"`
	Updates       int    `json:"updates"`
	Deletes       int    `json:"deletes"`
	Renames       int    `json:"renames,omitempty"`
	EventsRemoved int64  `json:"eventsRemoved,omitempty"`
	BackupFile    string `json:"backupFile,omitempty"`
}

// ApplyChangeSet runs the change set in one transaction. progress may
// be nil. The snapshot must be the one the change set was built
// against; it feeds the backup and the apply-time path resolution.
func (s *Service) ApplyChangeSet(ctx context.Context, userID uuid.UUID, snap *Snapshot, cs *ChangeSet, opts ApplyOptions, progress ProgressCallback) (*ApplyResult, error) {
	started := time.Now()
	if opts.jobID == "" {
		opts.jobID = uuid.New().String()
	}
	if opts.action == "" {
		opts.action = ActionStructureApply
	}
	result := &ApplyResult{JobID: opts.jobID, FileName: opts.FileName}

	if cs.Issues.HasErrors() {
		return nil, fmt.Errorf("%w: %d errors", ErrValidationFailed, cs.Issues.ErrorCount())
	}
	if cs.Empty() {
		result.Duration = time.Since(started)
		return result, nil
	}
	if cs.NeedsConfirmation() && !opts.Confirmed {
		return nil, ErrConfirmationRequired
	}

	prog := ApplyProgress{
		JobID:      opts.jobID,
		Phase:      PhaseStarting,
		FileName:   opts.FileName,
		TotalSteps: cs.Total(),
	}
	notify := func() {
		if progress != nil {
			progress(prog)
		}
	}
	step := func() {
		prog.Done++
		prog.Applied++
		if progress != nil && prog.Done%applyNotifyStep == 0 {
			progress(prog)
		}
	}
	notify()

	if cs.Deletes() > 0 && !opts.SkipBackup {
		if s.backups == nil {
			return nil, ErrBackupUnavailable
		}
		prog.Phase = PhaseBackup
		notify()
		info, err := s.backups.Write(ctx, userID, snap)
		if err != nil {
			return nil, fmt.Errorf("write backup: %w", err)
		}
		result.BackupFile = info.Path
	}

	prog.Phase = PhaseApplying
	notify()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	// New entities resolve sheet paths to the IDs generated here.
	createdAreas := make(map[string]uuid.UUID)
	createdCats := make(map[string]uuid.UUID)

	newAreas := append([]NewAreaChange(nil), cs.NewAreas...)
	sort.Slice(newAreas, func(i, j int) bool { return newAreas[i].Row < newAreas[j].Row })
	for _, na := range newAreas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		area := &Area{
			ID:          uuid.New(),
			UserID:      userID,
			Name:        na.Name,
			Icon:        DefaultAreaIcon,
			Color:       DefaultAreaColor,
			SortOrder:   na.SortOrder,
			Description: na.Description,
		}
		if err := store.InsertArea(ctx, area); err != nil {
			return nil, err
		}
		createdAreas[foldKey(na.Name)] = area.ID
		step()
	}

	// Sheet order puts parents above children, so inserting by row
	// keeps every ParentPath resolvable.
	newCats := append([]NewCategoryChange(nil), cs.NewCategories...)
	sort.Slice(newCats, func(i, j int) bool { return newCats[i].Row < newCats[j].Row })
	for _, nc := range newCats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		areaID := nc.AreaID
		if areaID == uuid.Nil {
			id, ok := createdAreas[foldKey(nc.AreaName)]
			if !ok {
				return nil, fmt.Errorf("category %q: area %q missing during apply", nc.Path, nc.AreaName)
			}
			areaID = id
		}
		parentID := nc.ParentID
		if parentID == nil && nc.ParentPath != "" {
			id, ok := createdCats[foldKey(nc.ParentPath)]
			if !ok {
				return nil, fmt.Errorf("category %q: parent %q missing during apply", nc.Path, nc.ParentPath)
			}
			parentID = &id
		}
		cat := &Category{
			ID:          uuid.New(),
			AreaID:      areaID,
			ParentID:    parentID,
			Name:        nc.Name,
			Level:       nc.Level,
			SortOrder:   nc.SortOrder,
			Description: nc.Description,
		}
		if err := store.InsertCategory(ctx, cat); err != nil {
			return nil, err
		}
		createdCats[foldKey(nc.Path)] = cat.ID
		step()
	}

	newAttrs := append([]NewAttributeChange(nil), cs.NewAttributes...)
	sort.Slice(newAttrs, func(i, j int) bool { return newAttrs[i].Row < newAttrs[j].Row })
	for _, na := range newAttrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		catID := na.CategoryID
		if catID == uuid.Nil {
			id, ok := createdCats[foldKey(na.CategoryPath)]
			if !ok {
				return nil, fmt.Errorf("attribute %q: category %q missing during apply", na.Name, na.CategoryPath)
			}
			catID = id
		}
		ad := &AttributeDefinition{
			ID:           uuid.New(),
			CategoryID:   catID,
			Name:         na.Name,
			DataType:     na.DataType,
			Unit:         na.Unit,
			IsRequired:   na.IsRequired,
			DefaultValue: na.DefaultValue,
			Rules:        na.Rules,
			SortOrder:    na.SortOrder,
			Description:  na.Description,
		}
		if err := store.InsertAttribute(ctx, ad); err != nil {
			return nil, err
		}
		step()
	}

	for _, u := range cs.UpdatedAreas {
		if err := store.UpdateAreaFields(ctx, userID, u.ID, u.Changes); err != nil {
			return nil, fmt.Errorf("area %q: %w", u.Name, err)
		}
		step()
	}
	for _, u := range cs.UpdatedCategories {
		if err := store.UpdateCategoryFields(ctx, userID, u.ID, u.Changes); err != nil {
			return nil, fmt.Errorf("category %q: %w", u.Name, err)
		}
		step()
	}
	for _, u := range cs.UpdatedAttributes {
		if err := store.UpdateAttributeFields(ctx, userID, u.ID, u.Changes); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", u.Name, err)
		}
		step()
	}

	var eventsRemoved int64
	if cs.Deletes() > 0 {
		ids := func(ds []EntityDelete) []uuid.UUID {
			out := make([]uuid.UUID, len(ds))
			for i, d := range ds {
				out[i] = d.ID
				eventsRemoved += d.Events
			}
			return out
		}
		if _, err := store.DeleteAttributes(ctx, userID, ids(cs.DeletedAttributes)); err != nil {
			return nil, err
		}
		prog.Done += len(cs.DeletedAttributes)
		prog.Applied += len(cs.DeletedAttributes)
		if _, err := store.DeleteCategories(ctx, userID, ids(cs.DeletedCategories)); err != nil {
			return nil, err
		}
		prog.Done += len(cs.DeletedCategories)
		prog.Applied += len(cs.DeletedCategories)
		if _, err := store.DeleteAreas(ctx, userID, ids(cs.DeletedAreas)); err != nil {
			return nil, err
		}
		prog.Done += len(cs.DeletedAreas)
		prog.Applied += len(cs.DeletedAreas)
	}

	entry := NewAuditEntry(ctx, userID, opts.action, applySummary{
		FileName:      opts.FileName,
		Inserts:       cs.Inserts(),
		Updates:       cs.Updates(),
		Deletes:       cs.Deletes(),
		Renames:       len(cs.Renames),
		EventsRemoved: eventsRemoved,
		BackupFile:    result.BackupFile,
	})
	if cs.Deletes() > 0 {
		entry.Severity = AuditCritical
	}
	if err := store.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}

	result.Applied = prog.Applied
	result.Duration = time.Since(started)
	prog.Phase = PhaseComplete
	prog.Done = prog.TotalSteps
	notify()

	s.logger.Info("structure apply committed",
		"user", userID,
		"inserts", cs.Inserts(),
		"updates", cs.Updates(),
		"deletes", cs.Deletes(),
		"renames", len(cs.Renames),
		"duration", result.Duration)
	return result, nil
}
