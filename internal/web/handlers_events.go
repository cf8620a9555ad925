package web

// handlers_events.go covers event CRUD, the filtered listing, workbook
// export with diff re-import, and bulk entry.

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/sheet"
)

// eventRequest is the create/update payload. Values maps attribute
// names to raw cell text, exactly as they would appear on a sheet.
type eventRequest struct {
	CategoryID     string            `json:"categoryId"`
	Date           string            `json:"date"`
	Comment        string            `json:"comment"`
	Values         map[string]string `json:"values"`
	AllowDuplicate bool              `json:"allowDuplicate"`
}

func (req eventRequest) toInput() (core.EventInput, error) {
	in := core.EventInput{
		Comment:        req.Comment,
		Values:         req.Values,
		AllowDuplicate: req.AllowDuplicate,
	}
	if req.CategoryID != "" {
		id, ok := core.ParseSheetUUID(req.CategoryID)
		if !ok {
			return in, fmt.Errorf("%w: invalid categoryId %q", errBadParam, req.CategoryID)
		}
		in.CategoryID = id
	}
	if req.Date != "" {
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			return in, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", errBadParam, req.Date)
		}
		in.Date = date
	}
	return in, nil
}

// handleEventCreate records one event.
func (s *Server) handleEventCreate(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	event, err := s.service.CreateEvent(r.Context(), userFrom(r), in)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// handleEventList returns one filtered, sorted page with aggregations.
func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	snap, err := s.service.Snapshot(r.Context(), userID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	opts, err := parseListOptions(r, snap)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	page, err := s.service.ListEvents(r.Context(), userID, opts)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleEventGet loads one event with its values.
func (s *Server) handleEventGet(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "eventID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	event, err := s.service.GetEvent(r.Context(), userFrom(r), eventID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleEventUpdate updates an event's comment and values. The category
// and date are fixed at creation.
func (s *Server) handleEventUpdate(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	eventID, err := uuidParam(r, "eventID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	if err := s.service.UpdateEvent(r.Context(), userID, eventID, in); err != nil {
		s.serviceError(w, r, err)
		return
	}
	event, err := s.service.GetEvent(r.Context(), userID, eventID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleEventDelete removes one event and its values.
func (s *Server) handleEventDelete(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "eventID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	deleted, err := s.service.DeleteEvents(r.Context(), userFrom(r), []uuid.UUID{eventID})
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if deleted == 0 {
		s.serviceError(w, r, fmt.Errorf("event %s: %w", eventID, core.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleEventsExport downloads the filtered events as a workbook whose
// rows can be edited and re-imported.
func (s *Server) handleEventsExport(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	snap, err := s.service.Snapshot(r.Context(), userID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	opts, err := parseListOptions(r, snap)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	export, err := s.service.ExportEvents(r.Context(), userID, opts)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	f, err := sheet.WriteEvents(export)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	name := fmt.Sprintf("events_export_%s.xlsx", time.Now().Format("20060102"))
	sendWorkbook(w, r, f, name)
}

// importResultResponse shapes an EventsImportResult for JSON.
type importResultResponse struct {
	Updated    int      `json:"updated"`
	Unchanged  int      `json:"unchanged"`
	Problems   []string `json:"problems,omitempty"`
	DurationMS int64    `json:"durationMs"`
}

func toImportResult(res *core.EventsImportResult) importResultResponse {
	return importResultResponse{
		Updated:    res.Updated,
		Unchanged:  res.Unchanged,
		Problems:   res.Problems,
		DurationMS: res.Duration.Milliseconds(),
	}
}

// handleEventsImportPreview diffs an edited events workbook against the
// stored events without writing anything.
func (s *Server) handleEventsImportPreview(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	es, _, ok := s.parseEventsUpload(w, r)
	if !ok {
		return
	}
	result, err := s.service.PreviewEventsImport(r.Context(), userID, es)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResult(result))
}

// handleEventsImportApply applies an edited events workbook as a
// background job.
func (s *Server) handleEventsImportApply(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	es, fileName, ok := s.parseEventsUpload(w, r)
	if !ok {
		return
	}
	jobID, err := s.service.StartEventsImport(r.Context(), userID, es, fileName)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "job_id", jobID, "file", fileName).Info("events import started")
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID.String()})
}

// parseEventsUpload reads the multipart upload as an events workbook.
// On failure the response is already written.
func (s *Server) parseEventsUpload(w http.ResponseWriter, r *http.Request) (*core.EventSheet, string, bool) {
	file, fileName, err := s.openUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, "", false
	}
	defer file.Close()

	wb, err := sheet.Open(file, fileName)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, "", false
	}
	es, err := sheet.ParseEvents(wb)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, "", false
	}
	return es, fileName, true
}

// handleBulkImport creates events from a bulk entry workbook or CSV as
// a background job. skip_duplicates=true drops rows whose category
// already has an event on the same date.
func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	file, fileName, err := s.openUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	wb, err := sheet.Open(file, fileName)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	bs, err := sheet.ParseBulk(wb)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	opts := core.BulkOptions{
		SkipDuplicates: r.URL.Query().Get("skip_duplicates") == "true",
		FileName:       fileName,
	}
	jobID, err := s.service.StartBulkImport(r.Context(), userID, bs, opts)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "job_id", jobID, "file", fileName).Info("bulk import started")
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID.String()})
}

// handleBulkTemplate downloads a bulk entry workbook pre-filled with
// category paths and attribute columns. Repeat category_id to narrow
// which subtrees are included.
func (s *Server) handleBulkTemplate(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context(), userFrom(r))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	var ids []uuid.UUID
	for _, raw := range r.URL.Query()["category_id"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid category_id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	f, err := sheet.WriteBulkTemplate(snap, ids)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	sendWorkbook(w, r, f, "bulk_entry_template.xlsx")
}

// attachmentRequest is the attach payload.
type attachmentRequest struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// handleAttachmentCreate links an image, file, or URL to an event.
func (s *Server) handleAttachmentCreate(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	eventID, err := uuidParam(r, "eventID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	var req attachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	a, err := s.service.AddAttachment(r.Context(), userID, eventID, core.AttachmentInput{
		Type:     req.Type,
		URL:      req.URL,
		Filename: req.Filename,
	})
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// handleAttachmentList returns an event's attachments, oldest first.
func (s *Server) handleAttachmentList(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuidParam(r, "eventID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	atts, err := s.service.Attachments(r.Context(), userFrom(r), eventID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if atts == nil {
		atts = []core.Attachment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": atts})
}

// handleAttachmentDelete removes one attachment.
func (s *Server) handleAttachmentDelete(w http.ResponseWriter, r *http.Request) {
	attachmentID, err := uuidParam(r, "attachmentID")
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if err := s.service.RemoveAttachment(r.Context(), userFrom(r), attachmentID); err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": 1})
}
