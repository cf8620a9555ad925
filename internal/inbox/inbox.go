// Package inbox ingests files dropped into a watched directory without
// going through the API. CSV files run as bulk event imports for the
// configured owner and move to Uploaded/ when they succeed. XLSX files
// run as structure preview dry-runs and move to Processed/ with a JSON
// report beside them. Files that fail stay where they are so the
// operator can fix or remove them.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/sheet"
)

const (
	uploadedDir  = "Uploaded"
	processedDir = "Processed"

	// settleDelay is how long a file must sit quiet after its last
	// write event before we read it. Drops arrive as a burst of
	// partial writes; reading too early sees a truncated file.
	settleDelay    = 2 * time.Second
	settleInterval = time.Second

	defaultRescanInterval = time.Minute
)

// Options configure a Watcher.
type Options struct {
	// Dir is the inbox directory. Created if missing.
	Dir string
	// UserID owns every event the inbox creates.
	UserID uuid.UUID
	// RescanInterval is the fallback full-directory sweep that picks up
	// files whose filesystem events were missed.
	RescanInterval time.Duration
}

// Watcher runs the inbox loop. The maps are only touched from the Run
// goroutine, so they need no locking.
type Watcher struct {
	service *core.Service
	opts    Options
	logger  *slog.Logger

	// pending holds paths with recent write activity, keyed to the
	// time of their last event.
	pending map[string]time.Time
	// failed remembers the mod time at which a file last failed, so
	// rescans skip it until it changes.
	failed map[string]time.Time
}

// New validates the options and makes sure the inbox directory exists.
// The watch itself starts in Run.
func New(service *core.Service, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("inbox dir is required")
	}
	if opts.UserID == uuid.Nil {
		return nil, errors.New("inbox user is required")
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = defaultRescanInterval
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	return &Watcher{
		service: service,
		opts:    opts,
		logger:  logging.Component("inbox"),
		pending: make(map[string]time.Time),
		failed:  make(map[string]time.Time),
	}, nil
}

// Run watches the inbox directory until ctx is cancelled. It scans once
// at startup for files dropped while the server was down, then reacts
// to filesystem events, with a periodic rescan as a safety net.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.logger.Info("inbox watching", "dir", w.opts.Dir, "rescan", w.opts.RescanInterval)

	w.scan(ctx)

	settle := time.NewTicker(settleInterval)
	defer settle.Stop()
	rescan := time.NewTicker(w.opts.RescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.note(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		case <-settle.C:
			w.processSettled(ctx)
		case <-rescan.C:
			w.scan(ctx)
		}
	}
}

// note records event activity. Create and Write mark a file as pending;
// Remove and Rename drop all bookkeeping for it.
func (w *Watcher) note(ev fsnotify.Event) {
	if !ingestible(ev.Name) {
		return
	}
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.pending[ev.Name] = time.Now()
		delete(w.failed, ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.pending, ev.Name)
		delete(w.failed, ev.Name)
	}
}

// processSettled ingests pending files whose last event is older than
// the settle delay.
func (w *Watcher) processSettled(ctx context.Context) {
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) < settleDelay {
			continue
		}
		delete(w.pending, path)
		w.process(ctx, path)
	}
}

// scan walks the inbox directory and ingests every file that is not
// waiting to settle and has not already failed unchanged.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.logger.Warn("inbox scan failed", "error", err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !ingestible(entry.Name()) {
			continue
		}
		path := filepath.Join(w.opts.Dir, entry.Name())
		if _, waiting := w.pending[path]; waiting {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if at, ok := w.failed[path]; ok && at.Equal(info.ModTime()) {
			continue
		}
		w.process(ctx, path)
	}
}

// process runs one file through its pipeline. Failures log and pin the
// file's mod time so rescans leave it alone until it changes.
func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)

	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		err = w.ingestCSV(ctx, path)
	case ".xlsx":
		err = w.previewXLSX(ctx, path)
	default:
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("inbox ingest failed", "file", name, "error", err)
		if info, statErr := os.Stat(path); statErr == nil {
			w.failed[path] = info.ModTime()
		}
		return
	}
	delete(w.failed, path)
}

// ingestCSV runs a bulk event import for the file and waits for the job
// to finish. The file moves to Uploaded/ only after a clean result.
func (w *Watcher) ingestCSV(ctx context.Context, path string) error {
	bs, err := w.openBulk(path)
	if err != nil {
		return err
	}

	jobID, err := w.service.StartBulkImport(ctx, w.opts.UserID, bs, core.BulkOptions{
		SkipDuplicates: true,
		FileName:       filepath.Base(path),
	})
	if err != nil {
		return err
	}
	result, err := w.service.JobResult(ctx, jobID)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}

	w.logger.Info("inbox bulk import finished",
		"file", filepath.Base(path),
		"applied", result.Applied,
		"skipped", result.Skipped,
		"duration", result.Duration)
	_, err = w.moveTo(path, uploadedDir)
	return err
}

func (w *Watcher) openBulk(path string) (*core.BulkSheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wb, err := sheet.Open(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return sheet.ParseBulk(wb)
}

// previewReport is what previewXLSX writes next to the processed file.
type previewReport struct {
	File        string                 `json:"file"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Inserts     int                    `json:"inserts"`
	Updates     int                    `json:"updates"`
	Deletes     int                    `json:"deletes"`
	Confirm     bool                   `json:"needsConfirmation"`
	Issues      []core.ValidationIssue `json:"issues,omitempty"`
	ChangeSet   *core.ChangeSet        `json:"changeSet"`
}

// previewXLSX dry-runs the workbook against the live structure and
// moves it to Processed/ with a report of what an apply would do.
// Workbooks with validation problems still produce a report; the
// issues are the point.
func (w *Watcher) previewXLSX(ctx context.Context, path string) error {
	hs, convIssues, err := w.openStructure(path)
	if err != nil {
		return err
	}

	cs, _, err := w.service.PreviewStructure(ctx, w.opts.UserID, hs, core.BuildOptions{FullReplace: true})
	if err != nil {
		return err
	}
	cs.Issues.Merge(convIssues)

	report := previewReport{
		File:        filepath.Base(path),
		GeneratedAt: time.Now().UTC(),
		Inserts:     cs.Inserts(),
		Updates:     cs.Updates(),
		Deletes:     cs.Deletes(),
		Confirm:     cs.NeedsConfirmation(),
		Issues:      cs.Issues.Issues,
		ChangeSet:   cs,
	}

	dest, err := w.moveTo(path, processedDir)
	if err != nil {
		return err
	}
	if err := writeReport(reportPath(dest), report); err != nil {
		return err
	}

	w.logger.Info("inbox preview finished",
		"file", filepath.Base(path),
		"inserts", report.Inserts,
		"updates", report.Updates,
		"deletes", report.Deletes,
		"issues", len(report.Issues))
	return nil
}

func (w *Watcher) openStructure(path string) (*core.HierarchicalSheet, *core.IssueList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	wb, err := sheet.Open(f, filepath.Base(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	return sheet.ParseStructure(wb)
}

// moveTo renames the file into a subdirectory of the inbox, creating it
// on first use, and returns the destination path.
func (w *Watcher) moveTo(path, subdir string) (string, error) {
	base := filepath.Base(path)
	destDir := filepath.Join(w.opts.Dir, subdir)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", subdir, err)
	}
	dest := filepath.Join(destDir, base)
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", base, err)
	}
	return dest, nil
}

func reportPath(dest string) string {
	return strings.TrimSuffix(dest, filepath.Ext(dest)) + ".report.json"
}

func writeReport(path string, report previewReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ingestible reports whether the inbox handles this file. Hidden files
// and Excel lock files (~$...) are skipped.
func ingestible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}
