// Package backup persists pre-apply structure backups as template
// workbooks on local disk. The apply pipeline writes one before any
// destructive change set runs; the maintenance scheduler sweeps old
// files past the retention window.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxotrack/internal/core"
	"taxotrack/internal/sheet"
)

var _ core.BackupStore = (*Store)(nil)

const filePrefix = "backup_"

// Store writes backup workbooks into one flat directory. Filenames
// carry the owning user's short id and a timestamp:
// backup_9f8a6c1d_20240615_120301.xlsx.
type Store struct {
	dir    string
	keep   int
	logger *slog.Logger

	mu sync.Mutex
}

// NewStore creates the backup directory if needed. keep caps how many
// backups one user accumulates; zero or negative means unlimited.
func NewStore(dir string, keep int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Store{dir: dir, keep: keep, logger: logger.With("component", "backup")}, nil
}

// Write renders the snapshot as a template workbook and saves it.
func (s *Store) Write(ctx context.Context, userID uuid.UUID, snap *core.Snapshot) (core.BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return core.BackupInfo{}, err
	}

	f, err := sheet.WriteTemplate(snap)
	if err != nil {
		return core.BackupInfo{}, fmt.Errorf("render backup workbook: %w", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.uniquePath(userID, time.Now())
	if err := f.SaveAs(path); err != nil {
		return core.BackupInfo{}, fmt.Errorf("save backup: %w", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return core.BackupInfo{}, fmt.Errorf("stat backup: %w", err)
	}

	info := core.BackupInfo{Path: path, Size: st.Size(), CreatedAt: st.ModTime()}
	s.logger.Info("structure backup written",
		"user_id", userID.String(),
		"path", path,
		"size_bytes", info.Size)

	if s.keep > 0 {
		s.prune(userID)
	}
	return info, nil
}

// prune removes the user's oldest backups beyond the keep cap. Callers
// hold the mutex.
func (s *Store) prune(userID uuid.UUID) {
	backups, err := s.List(userID)
	if err != nil {
		s.logger.Warn("backup prune skipped", "error", err)
		return
	}
	if len(backups) <= s.keep {
		return
	}
	for _, b := range backups[s.keep:] {
		if err := os.Remove(b.Path); err != nil {
			s.logger.Warn("backup prune failed to remove file", "path", b.Path, "error", err)
			continue
		}
		s.logger.Info("pruned old backup", "path", b.Path)
	}
}

// List returns the user's backups, newest first.
func (s *Store) List(userID uuid.UUID) ([]core.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	prefix := filePrefix + shortID(userID) + "_"
	var out []core.BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".xlsx") {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, core.BackupInfo{
			Path:      filepath.Join(s.dir, e.Name()),
			Size:      st.Size(),
			CreatedAt: st.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Sweep removes backups older than the retention window and reports
// how many went away. Files that cannot be removed are logged and left
// for the next pass.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), ".xlsx") {
			continue
		}
		st, err := e.Info()
		if err != nil || !st.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("backup sweep failed to remove file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// uniquePath picks a free filename; same-second writes for one user
// get a numeric suffix. Callers hold the mutex.
func (s *Store) uniquePath(userID uuid.UUID, now time.Time) string {
	base := fmt.Sprintf("%s%s_%s", filePrefix, shortID(userID), now.Format("20060102_150405"))
	path := filepath.Join(s.dir, base+".xlsx")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.xlsx", base, n))
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
