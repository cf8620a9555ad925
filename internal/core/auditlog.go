package core

// auditlog.go is the read side of the audit trail: filtered paging over
// the hot table and the archive, plus a CSV export for compliance
// pulls. Writes happen inside the transactions that perform the audited
// operation, see apply.go and events.go.

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
	auditExportLimit     = 10000
)

// AuditFilter narrows an audit trail query. Zero fields match
// everything.
type AuditFilter struct {
	Action   AuditAction
	Severity AuditSeverity
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// AuditPage is one page of audit trail results.
type AuditPage struct {
	Entries    []AuditEntry `json:"entries"`
	TotalRows  int64        `json:"totalRows"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

const auditColumns = "id, user_id, action, severity, summary, ip_address, user_agent, created_at"

func scanAuditEntry(rows pgx.Rows) (AuditEntry, error) {
	var e AuditEntry
	var action, severity string
	var summary []byte
	var ip, ua *string
	if err := rows.Scan(&e.ID, &e.UserID, &action, &severity, &summary, &ip, &ua, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = AuditAction(action)
	e.Severity = AuditSeverity(severity)
	if len(summary) > 0 {
		e.Summary = summary
	}
	e.IPAddress = textOf(ip)
	e.UserAgent = textOf(ua)
	return e, nil
}

// buildAuditFilter renders the WHERE clause for an audit query. Zero
// filter fields add no conditions.
func buildAuditFilter(userID uuid.UUID, f AuditFilter) (string, []interface{}, int) {
	conds := []string{"user_id = $1"}
	args := []interface{}{userID}
	idx := 2
	if f.Action != "" {
		conds = append(conds, fmt.Sprintf("action = $%d", idx))
		args = append(args, string(f.Action))
		idx++
	}
	if f.Severity != "" {
		conds = append(conds, fmt.Sprintf("severity = $%d", idx))
		args = append(args, string(f.Severity))
		idx++
	}
	if !f.From.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, f.To)
		idx++
	}
	return " WHERE " + strings.Join(conds, " AND "), args, idx
}

// QueryAudit returns a filtered page from audit_log, or from
// audit_log_archive when archived is true.
func (st *Store) QueryAudit(ctx context.Context, userID uuid.UUID, f AuditFilter, archived bool) (*AuditPage, error) {
	table := "audit_log"
	if archived {
		table = "audit_log_archive"
	}

	where, args, idx := buildAuditFilter(userID, f)

	var total int64
	if err := st.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}
	if pageSize > maxAuditPageSize {
		pageSize = maxAuditPageSize
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		auditColumns, table, where, idx, idx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := st.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, pageSize)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	return &AuditPage{
		Entries:    entries,
		TotalRows:  total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// SearchAudit returns a filtered page of the user's audit trail.
func (s *Service) SearchAudit(ctx context.Context, userID uuid.UUID, f AuditFilter) (*AuditPage, error) {
	return s.store.QueryAudit(ctx, userID, f, false)
}

// SearchAuditArchive is SearchAudit over entries already moved to cold
// storage by the maintenance scheduler.
func (s *Service) SearchAuditArchive(ctx context.Context, userID uuid.UUID, f AuditFilter) (*AuditPage, error) {
	return s.store.QueryAudit(ctx, userID, f, true)
}

// ExportAuditCSV renders the filtered audit trail as CSV, newest
// first, capped at auditExportLimit rows.
func (s *Service) ExportAuditCSV(ctx context.Context, userID uuid.UUID, f AuditFilter) (io.Reader, error) {
	f.Page = 1
	f.PageSize = auditExportLimit
	page, err := s.store.QueryAudit(ctx, userID, f, false)
	if err != nil {
		return nil, err
	}
	return renderAuditCSV(page.Entries)
}

func renderAuditCSV(entries []AuditEntry) (io.Reader, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"ID", "Timestamp", "Action", "Severity", "IP Address", "User Agent", "Details"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			e.ID.String(),
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Action),
			string(e.Severity),
			e.IPAddress,
			e.UserAgent,
			string(e.Summary),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &buf, nil
}
