package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"taxotrack/internal/backup"
	"taxotrack/internal/config"
	"taxotrack/internal/core"
	"taxotrack/internal/inbox"
	"taxotrack/internal/logging"
	"taxotrack/internal/session"
	"taxotrack/internal/web"
)

// version is stamped by the build; dev builds report "dev".
var version = "dev"

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Imports.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"inbox_enabled", cfg.Inbox.Enabled,
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	backups, err := backup.NewStore(cfg.Backups.Dir, cfg.Backups.Keep, slog.Default())
	if err != nil {
		slog.Error("failed to open backup store", "error", err)
		os.Exit(1)
	}

	service := core.NewService(pool, backups, logging.Component("core"))
	service.SetJobLimits(cfg.Imports.MaxConcurrent, cfg.Imports.MaxWaitTime)
	core.JobTimeout = cfg.Imports.Timeout

	sessions := session.NewManager(cfg.Session.IdleTimeout, logging.Component("session"))

	// Background workers share one context and stop together.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go sessions.Run(workerCtx, cfg.Session.SweepInterval)
	go service.StartMaintenance(workerCtx, core.MaintenanceConfig{
		HotRetentionDays:      cfg.Maintenance.AuditHotDays,
		ArchiveRetentionYears: cfg.Maintenance.AuditArchiveYears,
		BatchSize:             cfg.Maintenance.AuditBatchSize,
		BackupRetention:       cfg.Maintenance.BackupRetention,
		CheckInterval:         cfg.Maintenance.Interval,
	})

	if cfg.Inbox.Enabled {
		// Validate guarantees the ID parses when the inbox is on.
		ownerID, err := uuid.Parse(cfg.Inbox.UserID)
		if err != nil {
			slog.Error("invalid inbox user id", "error", err)
			os.Exit(1)
		}
		watcher, err := inbox.New(service, inbox.Options{
			Dir:            cfg.Inbox.Dir,
			UserID:         ownerID,
			RescanInterval: cfg.Inbox.RescanInterval,
		})
		if err != nil {
			slog.Error("failed to start inbox watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(workerCtx); err != nil {
				slog.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	server := web.NewServer(service, sessions, web.Options{
		Server:   cfg.Server,
		Auth:     cfg.Auth,
		Rate:     cfg.Rate,
		Security: cfg.Security,
		Imports:  cfg.Imports,
		Version:  version,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		stopWorkers()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("jobs did not finish in time", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
