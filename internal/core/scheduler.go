package core

// scheduler.go runs periodic housekeeping: moving old audit entries
// from the hot table into the archive, purging the archive past its
// long retention, and sweeping expired structure backups. Failures are
// logged and retried on the next cycle, never fatal.

import (
	"context"
	"time"
)

// MaintenanceConfig holds retention settings for the maintenance
// scheduler. Zero values fall back to defaults.
type MaintenanceConfig struct {
	HotRetentionDays      int           // days kept in audit_log (default 90)
	ArchiveRetentionYears int           // years kept in audit_log_archive (default 7)
	BatchSize             int           // rows archived per cycle (default 5000)
	BackupRetention       time.Duration // how long structure backups live (default 30 days)
	CheckInterval         time.Duration // cycle period (default 24h)
}

func (c *MaintenanceConfig) normalize() {
	if c.HotRetentionDays <= 0 {
		c.HotRetentionDays = 90
	}
	if c.ArchiveRetentionYears <= 0 {
		c.ArchiveRetentionYears = 7
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.BackupRetention <= 0 {
		c.BackupRetention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
}

// StartMaintenance runs maintenance immediately, then every
// CheckInterval until ctx is cancelled. Call it in its own goroutine.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	cfg.normalize()
	s.logger.Info("maintenance scheduler started",
		"hot_retention_days", cfg.HotRetentionDays,
		"archive_retention_years", cfg.ArchiveRetentionYears,
		"backup_retention", cfg.BackupRetention,
		"interval", cfg.CheckInterval)

	s.runMaintenance(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx, cfg)
		}
	}
}

// runMaintenance performs one archive + purge + sweep cycle.
func (s *Service) runMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	start := time.Now()

	archived, err := s.store.ArchiveOldAudit(ctx, cfg.HotRetentionDays, cfg.BatchSize)
	if err != nil {
		s.logger.Error("audit archive failed", "error", err)
	} else if archived > 0 {
		s.logger.Info("archived audit entries", "count", archived)
	}

	purged, err := s.store.PurgeAuditArchive(ctx, cfg.ArchiveRetentionYears)
	if err != nil {
		s.logger.Error("audit archive purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("purged archived audit entries", "count", purged)
	}

	if s.backups != nil {
		swept, err := s.backups.Sweep(cfg.BackupRetention)
		if err != nil {
			s.logger.Error("backup sweep failed", "error", err)
		} else if swept > 0 {
			s.logger.Info("swept expired backups", "count", swept)
		}
	}

	s.logger.Debug("maintenance cycle completed", "duration_ms", time.Since(start).Milliseconds())
}
