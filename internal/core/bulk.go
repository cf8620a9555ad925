package core

// bulk.go turns a filled-in bulk entry workbook into events. Rows name
// their category by full path, so typos get a did-you-mean suggestion
// from the fuzzy matcher instead of a bare failure. The whole import is
// one transaction with a savepoint per row: bad rows roll back alone
// and the rest still lands.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxotrack/internal/reconcile"
)

// ContextCheckInterval is how many rows pass between cancellation
// checks inside import loops.
var ContextCheckInterval = 100

// maxProblemRows caps how many row problems a bulk result reports.
const maxProblemRows = 50

// BulkOptions control one bulk import.
type BulkOptions struct {
	// SkipDuplicates drops rows whose category already has an event on
	// the same date instead of creating a second one.
	SkipDuplicates bool
	// FileName labels progress, audit entries, and results.
	FileName string
}

// BulkResult summarizes one bulk import.
type BulkResult struct {
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Problems   []string      `json:"problems,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ImportBulk creates one event per workbook row. progress may be nil.
func (s *Service) ImportBulk(ctx context.Context, userID uuid.UUID, bs *BulkSheet, opts BulkOptions, progress ProgressCallback) (*BulkResult, error) {
	started := time.Now()
	result := &BulkResult{}

	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	knownPaths := snap.CategoryPaths()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk import: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	prog := ApplyProgress{Phase: PhaseApplying, FileName: opts.FileName, TotalSteps: len(bs.Rows)}
	notify := func() {
		if progress != nil {
			progress(prog)
		}
	}
	notify()

	fail := func(row BulkRow, format string, args ...interface{}) {
		result.Failed++
		if len(result.Problems) < maxProblemRows {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: %s", row.Row, fmt.Sprintf(format, args...)))
		} else if len(result.Problems) == maxProblemRows {
			result.Problems = append(result.Problems, fmt.Sprintf("more than %d failed rows, remaining problems omitted", maxProblemRows))
		}
	}

	for i, row := range bs.Rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		prog.Done = i + 1

		path := CleanCell(row.Category)
		if path == "" {
			fail(row, "Missing Category")
			continue
		}
		cat, ok := snap.CategoryByPath(path)
		if !ok {
			if hints := reconcile.CloseMatches(path, knownPaths, 1, reconcile.DefaultCutoff); len(hints) > 0 {
				fail(row, "Category %q not found. Did you mean %q?", path, hints[0])
			} else {
				fail(row, "Category %q not found", path)
			}
			continue
		}

		date, ok := ParseDate(row.Date)
		if !ok {
			fail(row, "%q is not a date", row.Date)
			continue
		}

		values, problems := coerceEventValues(snap, cat.ID, row.Values, true)
		if len(problems) > 0 {
			fail(row, "%s", strings.Join(problems, "; "))
			continue
		}

		if opts.SkipDuplicates {
			exists, err := store.ExistsEvent(ctx, userID, cat.ID, date)
			if err != nil {
				return nil, err
			}
			if exists {
				result.Duplicates++
				continue
			}
		}

		savepointName := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, fmt.Sprintf("SAVEPOINT %s", savepointName)); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		if err := insertBulkRow(ctx, store, userID, cat.ID, date, row.Comment, values); err != nil {
			_, _ = tx.Exec(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", savepointName))
			// Recognized database failures get the friendly rendering;
			// anything unmapped keeps its technical text so the row can
			// still be diagnosed.
			if IsUserFacing(err) {
				fail(row, "%s", FormatUserError(err))
			} else {
				fail(row, "%v", err)
			}
			continue
		}
		_, _ = tx.Exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", savepointName))

		result.Created++
		prog.Applied = result.Created
		prog.Skipped = result.Duplicates + result.Failed
		if i%100 == 0 {
			notify()
		}
	}

	entry := NewAuditEntry(ctx, userID, ActionBulkImport, map[string]interface{}{
		"fileName":   opts.FileName,
		"created":    result.Created,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	})
	if err := store.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bulk import: %w", err)
	}

	result.Duration = time.Since(started)
	prog.Phase = PhaseComplete
	notify()

	s.logger.Info("bulk import committed",
		"user", userID,
		"file", opts.FileName,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

func insertBulkRow(ctx context.Context, store *Store, userID, categoryID uuid.UUID, date time.Time, comment string, values []resolvedValue) error {
	event := &Event{
		ID:         uuid.New(),
		UserID:     userID,
		CategoryID: categoryID,
		EventDate:  date,
		Comment:    CleanCell(comment),
	}
	if err := store.InsertEvent(ctx, event); err != nil {
		return err
	}
	for _, rv := range values {
		if rv.value.IsZero() {
			continue
		}
		if err := store.ReplaceEventValue(ctx, event.ID, rv.attr.ID, rv.value); err != nil {
			return err
		}
	}
	return nil
}

// StartBulkImport runs ImportBulk as a background job.
func (s *Service) StartBulkImport(ctx context.Context, userID uuid.UUID, bs *BulkSheet, opts BulkOptions) (uuid.UUID, error) {
	return s.startJob(ctx, userID, opts.FileName, len(bs.Rows), func(jobCtx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error) {
		res, err := s.ImportBulk(jobCtx, userID, bs, opts, progress)
		if err != nil {
			return nil, err
		}
		out := &ApplyResult{
			JobID:    jobID.String(),
			FileName: opts.FileName,
			Applied:  res.Created,
			Skipped:  res.Duplicates + res.Failed,
			Duration: res.Duration,
		}
		if len(res.Problems) > 0 {
			out.Error = strings.Join(res.Problems, "\n")
		}
		return out, nil
	})
}
