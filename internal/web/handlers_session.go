package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"taxotrack/internal/logging"
	"taxotrack/internal/session"
)

// sessionResponse is a session.State plus the derived filter lock, so
// clients do not have to re-implement the modifying check.
type sessionResponse struct {
	session.State
	FiltersEnabled bool `json:"filtersEnabled"`
}

func toSession(state session.State) sessionResponse {
	return sessionResponse{State: state, FiltersEnabled: state.FiltersEnabled()}
}

// sessionError writes the sentinel's own text; session messages are
// already phrased for users. These are expected state conflicts, so
// they log at warn rather than error.
func (s *Server) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logging.FromContext(r.Context()).Warn("session rejected",
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
	)
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: err.Error(),
		Code:    fmt.Sprintf("SES%d", status),
	})
}

// handleSessionGet returns the caller's current session state.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSession(s.sessions.Get(userFrom(r))))
}

type modeRequest struct {
	Mode  string `json:"mode"`
	Force bool   `json:"force"`
}

// handleSessionMode switches between read-only and edit mode. Leaving
// edit mode with unsaved changes or an open operation is refused
// unless force is set.
func (s *Server) handleSessionMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	state, err := s.sessions.SetMode(userFrom(r), mode, req.Force)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSession(state))
}

type operationRequest struct {
	Operation string            `json:"operation"`
	Tab       string            `json:"tab"`
	FormData  map[string]string `json:"formData"`
}

// handleSessionOperation opens an operation on a tab and optionally
// seeds its form data in the same call.
func (s *Server) handleSessionOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	op, err := session.ParseOperation(req.Operation)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	userID := userFrom(r)
	state, err := s.sessions.StartOperation(userID, op, req.Tab)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	if len(req.FormData) > 0 {
		if state, err = s.sessions.UpdateForm(userID, req.FormData); err != nil {
			s.sessionError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toSession(state))
}

// handleSessionClear abandons any open operation and unsaved changes
// and drops back to read-only mode.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSession(s.sessions.Clear(userFrom(r))))
}
