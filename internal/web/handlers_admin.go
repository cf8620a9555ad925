package web

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/sqlgen"
)

// handleHealth reports liveness plus job limiter occupancy and live
// session count. It sits outside the auth group so probes can hit it
// bare.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.opts.Version,
		"jobs":     s.service.LimiterStatus(),
		"sessions": s.sessions.Len(),
	})
}

// handleSchemaSQL renders the provisioning DDL as a download.
// seed=current embeds the caller's live structure as INSERTs, and
// sample=true adds smoke-test events on top of that seed.
func (s *Server) handleSchemaSQL(w http.ResponseWriter, r *http.Request) {
	var opts sqlgen.Options
	if r.URL.Query().Get("seed") == "current" {
		snap, err := s.service.Snapshot(r.Context(), userFrom(r))
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		opts.Seed = snap
		opts.SampleEvents = r.URL.Query().Get("sample") == "true"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schema.sql"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, sqlgen.Schema(opts)); err != nil {
		logging.FromContext(r.Context()).Error("schema download failed", "error", err)
	}
}

// handleAuditSearch pages through the caller's audit trail.
// archived=true reads the archive table instead, and format=csv
// streams the filtered rows as a CSV download.
func (s *Server) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	userID := userFrom(r)

	if r.URL.Query().Get("format") == "csv" {
		rd, err := s.service.ExportAuditCSV(r.Context(), userID, f)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_log.csv"`)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rd); err != nil {
			logging.FromContext(r.Context()).Error("audit csv stream failed", "error", err)
		}
		return
	}

	var page *core.AuditPage
	if r.URL.Query().Get("archived") == "true" {
		page, err = s.service.SearchAuditArchive(r.Context(), userID, f)
	} else {
		page, err = s.service.SearchAudit(r.Context(), userID, f)
	}
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseAuditFilter reads the audit query params. Zero times mean
// unbounded on that side.
func parseAuditFilter(r *http.Request) (core.AuditFilter, error) {
	q := r.URL.Query()
	f := core.AuditFilter{
		Action:   core.AuditAction(q.Get("action")),
		Severity: core.AuditSeverity(q.Get("severity")),
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "page_size", 50),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return f, fmt.Errorf("invalid from %q, want YYYY-MM-DD", raw)
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return f, fmt.Errorf("invalid to %q, want YYYY-MM-DD", raw)
		}
		f.To = t
	}
	return f, nil
}

// handleFormats lists the workbook formats the server recognizes.
func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": core.Formats()})
}

// handleBackups lists the caller's structure backup workbooks, newest
// first.
func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.service.Backups(userFrom(r))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if backups == nil {
		backups = []core.BackupInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}
