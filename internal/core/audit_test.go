package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// ----------------------------------------------------------------------------
// Audit entry Tests
// ----------------------------------------------------------------------------

func TestAuditSeverityFor(t *testing.T) {
	tests := []struct {
		action AuditAction
		want   AuditSeverity
	}{
		{ActionStructureRestore, AuditCritical},
		{ActionStructureApply, AuditNotice},
		{ActionEventDelete, AuditNotice},
		{ActionEventCreate, AuditInfo},
		{ActionEventUpdate, AuditInfo},
		{ActionEventsImport, AuditInfo},
		{ActionBulkImport, AuditInfo},
		{ActionBackupCreate, AuditInfo},
	}

	for _, tt := range tests {
		if got := auditSeverityFor(tt.action); got != tt.want {
			t.Errorf("auditSeverityFor(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestNewAuditEntry(t *testing.T) {
	userID := uuid.New()
	ctx := ContextWithClient(context.Background(), "10.0.0.9", "curl/8.5")

	e := NewAuditEntry(ctx, userID, ActionStructureApply, map[string]int{"inserts": 3})

	if e.ID == uuid.Nil {
		t.Error("entry should get a fresh ID")
	}
	if e.UserID != userID {
		t.Errorf("userID = %s, want %s", e.UserID, userID)
	}
	if e.Severity != AuditNotice {
		t.Errorf("severity = %s, want notice", e.Severity)
	}
	if e.IPAddress != "10.0.0.9" || e.UserAgent != "curl/8.5" {
		t.Errorf("client identity = %q / %q, want context values", e.IPAddress, e.UserAgent)
	}

	var summary map[string]int
	if err := json.Unmarshal(e.Summary, &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if summary["inserts"] != 3 {
		t.Errorf("summary = %v", summary)
	}
}

func TestNewAuditEntryNilSummary(t *testing.T) {
	e := NewAuditEntry(context.Background(), uuid.New(), ActionEventCreate, nil)
	if e.Summary != nil {
		t.Errorf("summary = %q, want nil for NULL column", e.Summary)
	}
}

func TestNewAuditEntryUnmarshalableSummary(t *testing.T) {
	e := NewAuditEntry(context.Background(), uuid.New(), ActionEventCreate, make(chan int))
	if e.Summary != nil {
		t.Error("a summary that cannot marshal should be dropped, not block the entry")
	}
}

func TestClientContext(t *testing.T) {
	ctx := ContextWithClient(context.Background(), "192.168.1.7", "Mozilla/5.0")
	if got := ClientIP(ctx); got != "192.168.1.7" {
		t.Errorf("ClientIP = %q", got)
	}
	if got := ClientUserAgent(ctx); got != "Mozilla/5.0" {
		t.Errorf("ClientUserAgent = %q", got)
	}

	if got := ClientIP(context.Background()); got != "" {
		t.Errorf("ClientIP on bare context = %q, want empty", got)
	}
	if got := ClientUserAgent(context.Background()); got != "" {
		t.Errorf("ClientUserAgent on bare context = %q, want empty", got)
	}
}

// ----------------------------------------------------------------------------
// Audit query filter Tests
// ----------------------------------------------------------------------------

func TestBuildAuditFilter(t *testing.T) {
	userID := uuid.MustParse("99999999-9999-9999-9999-999999999999")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    AuditFilter
		wantWhere string
		wantArgs  []interface{}
		wantIdx   int
	}{
		{
			name:      "zero filter scopes by user only",
			filter:    AuditFilter{},
			wantWhere: " WHERE user_id = $1",
			wantArgs:  []interface{}{userID},
			wantIdx:   2,
		},
		{
			name:      "action",
			filter:    AuditFilter{Action: ActionBulkImport},
			wantWhere: " WHERE user_id = $1 AND action = $2",
			wantArgs:  []interface{}{userID, "bulk_import"},
			wantIdx:   3,
		},
		{
			name:      "severity",
			filter:    AuditFilter{Severity: AuditCritical},
			wantWhere: " WHERE user_id = $1 AND severity = $2",
			wantArgs:  []interface{}{userID, "critical"},
			wantIdx:   3,
		},
		{
			name:      "date window",
			filter:    AuditFilter{From: from, To: to},
			wantWhere: " WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3",
			wantArgs:  []interface{}{userID, from, to},
			wantIdx:   4,
		},
		{
			name:      "everything",
			filter:    AuditFilter{Action: ActionStructureApply, Severity: AuditNotice, From: from, To: to},
			wantWhere: " WHERE user_id = $1 AND action = $2 AND severity = $3 AND created_at >= $4 AND created_at <= $5",
			wantArgs:  []interface{}{userID, "structure_apply", "notice", from, to},
			wantIdx:   6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, idx := buildAuditFilter(userID, tt.filter)
			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			if idx != tt.wantIdx {
				t.Errorf("idx = %d, want %d", idx, tt.wantIdx)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CSV export Tests
// ----------------------------------------------------------------------------

func TestRenderAuditCSV(t *testing.T) {
	id := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	entries := []AuditEntry{
		{
			ID:        id,
			Action:    ActionEventsImport,
			Severity:  AuditInfo,
			Summary:   json.RawMessage(`{"rows":5}`),
			IPAddress: "10.1.1.1",
			UserAgent: "curl/8.5",
			CreatedAt: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			ID:        id,
			Action:    ActionStructureRestore,
			Severity:  AuditCritical,
			CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
	}

	r, err := renderAuditCSV(entries)
	if err != nil {
		t.Fatalf("renderAuditCSV: %v", err)
	}
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("parse rendered csv: %v", err)
	}

	want := [][]string{
		{"ID", "Timestamp", "Action", "Severity", "IP Address", "User Agent", "Details"},
		{id.String(), "2026-03-01 08:30:00", "events_import", "info", "10.1.1.1", "curl/8.5", `{"rows":5}`},
		{id.String(), "2026-03-02 09:00:00", "structure_restore", "critical", "", "", ""},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderAuditCSVEmpty(t *testing.T) {
	r, err := renderAuditCSV(nil)
	if err != nil {
		t.Fatalf("renderAuditCSV: %v", err)
	}
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("parse rendered csv: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %v, want header only", records)
	}
}
