package web

// handlers_structure.go serves the structure tree, workbook downloads,
// and the preview/apply upload flow. Previews are staged server-side;
// apply claims one by ID and runs as a background job whose progress
// streams over SSE.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/seed"
	"taxotrack/internal/sheet"
)

// treeArea is one area node of the structure tree response.
type treeArea struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	Color       string         `json:"color,omitempty"`
	Description string         `json:"description,omitempty"`
	Categories  []treeCategory `json:"categories,omitempty"`
}

// treeCategory is one category node with its attributes and children.
type treeCategory struct {
	ID          uuid.UUID                  `json:"id"`
	Name        string                     `json:"name"`
	Path        string                     `json:"path"`
	Level       int                        `json:"level"`
	Description string                     `json:"description,omitempty"`
	Attributes  []core.AttributeDefinition `json:"attributes,omitempty"`
	Children    []treeCategory             `json:"children,omitempty"`
}

// handleStructureTree returns the user's full structure as nested JSON.
func (s *Server) handleStructureTree(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context(), userFrom(r))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	areas := make([]treeArea, 0, len(snap.Areas))
	for _, a := range snap.SortedAreas() {
		ta := treeArea{
			ID:          a.ID,
			Name:        a.Name,
			Icon:        a.Icon,
			Color:       a.Color,
			Description: a.Description,
		}
		for _, c := range snap.RootCategories(a.ID) {
			ta.Categories = append(ta.Categories, buildTreeCategory(snap, c))
		}
		areas = append(areas, ta)
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas})
}

func buildTreeCategory(snap *core.Snapshot, c *core.Category) treeCategory {
	tc := treeCategory{
		ID:          c.ID,
		Name:        c.Name,
		Path:        snap.PathFor(c.ID),
		Level:       c.Level,
		Description: c.Description,
	}
	for _, ad := range snap.AttributesFor(c.ID) {
		tc.Attributes = append(tc.Attributes, *ad)
	}
	for _, child := range snap.ChildCategories(c.ID) {
		tc.Children = append(tc.Children, buildTreeCategory(snap, child))
	}
	return tc
}

// handleStructureExport downloads the structure as a hierarchical
// workbook, the format structure re-uploads expect.
func (s *Server) handleStructureExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context(), userFrom(r))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	f, err := sheet.WriteHierarchical(snap)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	name := fmt.Sprintf("hierarchical_view_%s.xlsx", time.Now().Format("20060102"))
	sendWorkbook(w, r, f, name)
}

// handleStructureTemplate downloads the starter three-sheet template
// workbook for users setting up from scratch.
func (s *Server) handleStructureTemplate(w http.ResponseWriter, r *http.Request) {
	snap, err := seed.Starter().Snapshot()
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	f, err := sheet.WriteTemplate(snap)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	sendWorkbook(w, r, f, "structure_template.xlsx")
}

// handleStructureBackup reverse-engineers the user's current structure
// into a three-sheet template workbook.
func (s *Server) handleStructureBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(r.Context(), userFrom(r))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	f, err := sheet.WriteTemplate(snap)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	name := fmt.Sprintf("template_backup_%s.xlsx", time.Now().Format("20060102_150405"))
	sendWorkbook(w, r, f, name)
}

// previewResponse reports a staged change set back to the client.
type previewResponse struct {
	PreviewID         uuid.UUID              `json:"previewId"`
	FileName          string                 `json:"fileName"`
	ExpiresAt         time.Time              `json:"expiresAt"`
	Changes           *core.ChangeSet        `json:"changes"`
	Issues            []core.ValidationIssue `json:"issues,omitempty"`
	ErrorCount        int                    `json:"errorCount"`
	IssuesTruncated   bool                   `json:"issuesTruncated,omitempty"`
	Inserts           int                    `json:"inserts"`
	Updates           int                    `json:"updates"`
	Deletes           int                    `json:"deletes"`
	NeedsConfirmation bool                   `json:"needsConfirmation"`
}

// parseStructureUpload reads the multipart upload as a structure
// workbook in either supported format. On failure the response is
// already written.
func (s *Server) parseStructureUpload(w http.ResponseWriter, r *http.Request) (*core.HierarchicalSheet, *core.IssueList, string, bool) {
	file, fileName, err := s.openUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, nil, "", false
	}
	defer file.Close()

	wb, err := sheet.Open(file, fileName)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, nil, "", false
	}
	hs, issues, err := sheet.ParseStructure(wb)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return nil, nil, "", false
	}
	return hs, issues, fileName, true
}

// handleStructurePreview parses an uploaded structure workbook and
// stages the resulting change set for a later apply. Template uploads
// report their flattening problems alongside the change set's own
// issues; either kind of error blocks the apply.
func (s *Server) handleStructurePreview(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	hs, convIssues, fileName, ok := s.parseStructureUpload(w, r)
	if !ok {
		return
	}

	opts := core.BuildOptions{FullReplace: r.FormValue("full_replace") == "true"}
	cs, snap, err := s.service.PreviewStructure(r.Context(), userID, hs, opts)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	cs.Issues.Merge(convIssues)

	previewID, expires := s.previews.put(userID, fileName, snap, cs)
	writeJSON(w, http.StatusOK, previewResponse{
		PreviewID:         previewID,
		FileName:          fileName,
		ExpiresAt:         expires,
		Changes:           cs,
		Issues:            cs.Issues.Issues,
		ErrorCount:        cs.Issues.ErrorCount(),
		IssuesTruncated:   cs.Issues.Truncated(),
		Inserts:           cs.Inserts(),
		Updates:           cs.Updates(),
		Deletes:           cs.Deletes(),
		NeedsConfirmation: cs.NeedsConfirmation(),
	})
}

type applyRequest struct {
	PreviewID  uuid.UUID `json:"previewId"`
	Confirmed  bool      `json:"confirmed"`
	SkipBackup bool      `json:"skipBackup"`
}

// handleStructureApply claims a staged preview and starts the apply as
// a background job.
func (s *Server) handleStructureApply(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	staged, ok := s.previews.take(userID, req.PreviewID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "preview not found or expired",
			Message: "preview not found or expired",
			Action:  "Upload the workbook again for a fresh preview",
			Code:    "WEB404",
		})
		return
	}

	jobID, err := s.service.StartApply(r.Context(), userID, staged.snap, staged.changes, core.ApplyOptions{
		Confirmed:  req.Confirmed,
		SkipBackup: req.SkipBackup,
		FileName:   staged.fileName,
	})
	if err != nil {
		s.previews.restore(req.PreviewID, staged)
		s.serviceError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", jobID, "file", staged.fileName).Info("structure apply started")
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID.String()})
}

// handleStructureRestore replaces the whole structure with an uploaded
// backup workbook as a background job. A workbook that does not flatten
// cleanly is refused outright: restoring from a partial sheet would
// delete everything the bad rows failed to describe.
func (s *Server) handleStructureRestore(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	hs, convIssues, fileName, ok := s.parseStructureUpload(w, r)
	if !ok {
		return
	}
	if convIssues.HasErrors() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "The workbook has validation errors",
			Message: "The workbook has validation errors",
			Action:  "Fix the listed rows and upload again",
			Code:    "STR002",
			Issues:  convIssues.Issues,
		})
		return
	}

	jobID, err := s.service.StartRestore(r.Context(), userID, hs, fileName)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "job_id", jobID, "file", fileName).Info("structure restore started")
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID.String()})
}

// jobResultResponse shapes an ApplyResult for JSON.
type jobResultResponse struct {
	JobID      string `json:"jobId"`
	FileName   string `json:"fileName,omitempty"`
	BackupFile string `json:"backupFile,omitempty"`
	Applied    int    `json:"applied"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

func toJobResult(res *core.ApplyResult) jobResultResponse {
	return jobResultResponse{
		JobID:      res.JobID,
		FileName:   res.FileName,
		BackupFile: res.BackupFile,
		Applied:    res.Applied,
		Skipped:    res.Skipped,
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.Error,
	}
}

// ownedJob resolves the job ID parameter and hides jobs started by
// other users behind the not-found error.
func (s *Server) ownedJob(r *http.Request) (uuid.UUID, error) {
	jobID, err := uuidParam(r, "jobID")
	if err != nil {
		return uuid.Nil, err
	}
	owner, err := s.service.JobOwner(jobID)
	if err != nil {
		return uuid.Nil, err
	}
	if owner != userFrom(r) {
		return uuid.Nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return jobID, nil
}

// handleJobResult blocks until the job finishes and returns its result.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ownedJob(r)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	result, err := s.service.JobResult(r.Context(), jobID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResult(result))
}

// progressPayload is one SSE data frame.
type progressPayload struct {
	JobID      string `json:"jobId"`
	Phase      string `json:"phase"`
	FileName   string `json:"fileName,omitempty"`
	TotalSteps int    `json:"totalSteps"`
	Done       int    `json:"done"`
	Applied    int    `json:"applied"`
	Skipped    int    `json:"skipped"`
	Percent    int    `json:"percent"`
	Error      string `json:"error,omitempty"`
}

func toProgress(p core.ApplyProgress) progressPayload {
	return progressPayload{
		JobID:      p.JobID,
		Phase:      string(p.Phase),
		FileName:   p.FileName,
		TotalSteps: p.TotalSteps,
		Done:       p.Done,
		Applied:    p.Applied,
		Skipped:    p.Skipped,
		Percent:    p.Percent(),
		Error:      p.Error,
	}
}

// handleJobEvents streams job progress as Server-Sent Events. The event
// ID is the progress percentage, so a reconnecting client can pass
// lastEventId to skip frames it already has.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ownedJob(r)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	flusher, ok := flusherFor(w)
	if !ok {
		s.respondError(w, r, errors.New("response writer does not support streaming"), http.StatusInternalServerError)
		return
	}

	ch, err := s.service.SubscribeJob(jobID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	lastEventID := 0
	if lastEventIDStr != "" {
		lastEventID, _ = strconv.Atoi(lastEventIDStr)
	}

	for {
		select {
		case progress, open := <-ch:
			if !open {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			percent := progress.Percent()
			if lastEventIDStr != "" && percent <= lastEventID {
				continue
			}

			data, _ := json.Marshal(toProgress(progress))
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// flusherFor unwraps middleware response writers until it finds a
// Flusher.
func flusherFor(w http.ResponseWriter) (http.Flusher, bool) {
	for {
		if f, ok := w.(http.Flusher); ok {
			return f, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil, false
		}
		w = u.Unwrap()
	}
}

// handleJobCancel cancels a running job.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ownedJob(r)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if err := s.service.CancelJob(jobID); err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
