package core

// audit.go records who changed what. Bulk and destructive operations
// write one audit_log row inside the same transaction that performed
// the change, so the trail cannot drift from the data. Client identity
// travels on the context, stamped by the HTTP middleware.

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the operation behind an audit entry.
type AuditAction string

const (
	ActionStructureApply   AuditAction = "structure_apply"
	ActionStructureRestore AuditAction = "structure_restore"
	ActionEventCreate      AuditAction = "event_create"
	ActionEventUpdate      AuditAction = "event_update"
	ActionEventDelete      AuditAction = "event_delete"
	ActionEventsImport     AuditAction = "events_import"
	ActionBulkImport       AuditAction = "bulk_import"
	ActionBackupCreate     AuditAction = "backup_create"
)

// AuditSeverity ranks audit entries for review filtering.
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditNotice   AuditSeverity = "notice"
	AuditCritical AuditSeverity = "critical"
)

// auditSeverityFor maps an action to its base severity. Callers
// escalate when an apply carries deletions.
func auditSeverityFor(action AuditAction) AuditSeverity {
	switch action {
	case ActionStructureRestore:
		return AuditCritical
	case ActionStructureApply, ActionEventDelete:
		return AuditNotice
	default:
		return AuditInfo
	}
}

// AuditEntry is one audit_log row.
type AuditEntry struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"userId"`
	Action    AuditAction     `json:"action"`
	Severity  AuditSeverity   `json:"severity"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewAuditEntry builds an entry with severity derived from the action
// and client identity taken from the context. A nil summary leaves the
// column NULL; a summary that fails to marshal is logged and dropped
// rather than blocking the operation it describes.
func NewAuditEntry(ctx context.Context, userID uuid.UUID, action AuditAction, summary interface{}) *AuditEntry {
	e := &AuditEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Severity:  auditSeverityFor(action),
		IPAddress: ClientIP(ctx),
		UserAgent: ClientUserAgent(ctx),
	}
	if summary != nil {
		payload, err := json.Marshal(summary)
		if err != nil {
			slog.Error("marshal audit summary", "action", action, "error", err)
		} else {
			e.Summary = payload
		}
	}
	return e
}

// ---- Client identity on the context ----

type contextKey string

const (
	ctxKeyClientIP contextKey = "audit_ip"
	ctxKeyClientUA contextKey = "audit_ua"
)

// ContextWithClient stamps the caller's network identity for audit rows.
func ContextWithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClientIP, ip)
	return context.WithValue(ctx, ctxKeyClientUA, userAgent)
}

// ClientIP returns the IP stamped by ContextWithClient, or "".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}

// ClientUserAgent returns the User-Agent stamped by ContextWithClient, or "".
func ClientUserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientUA).(string); ok {
		return v
	}
	return ""
}
