package web

// errors.go turns service errors into sanitized JSON responses. The
// technical error is logged with the request ID for correlation; the
// client gets the user-facing message, action, and support code from
// core.MapError.

import (
	"errors"
	"net/http"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	"taxotrack/internal/session"
)

// ErrorResponse is the JSON error envelope. Error and Message carry the
// same text; Error is the field the static index's examples read.
// Issues lists row-level problems when a whole workbook is refused.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Action  string                 `json:"action,omitempty"`
	Code    string                 `json:"code"`
	Issues  []core.ValidationIssue `json:"issues,omitempty"`
}

// respondError logs err server-side and writes the sanitized envelope.
// Recognized client-side failures log at warn; everything else is an
// error the operator should look at.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	logFn := logger.Error
	if statusCode < http.StatusInternalServerError && core.IsUserFacing(err) {
		logFn = logger.Warn
	}
	logFn("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	writeJSON(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// serviceError responds with the status implied by the error's
// sentinel. Request-shape errors skip the mapper so their literal
// message survives.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadParam) {
		badRequest(w, err.Error())
		return
	}
	s.respondError(w, r, err, statusFor(err))
}

// statusFor maps service sentinels onto HTTP statuses. Anything
// unmatched is internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateEvent),
		errors.Is(err, core.ErrConfirmationRequired),
		errors.Is(err, core.ErrBackupUnavailable),
		errors.Is(err, session.ErrUnsavedChanges),
		errors.Is(err, session.ErrNotInEditMode),
		errors.Is(err, session.ErrOperationPending),
		errors.Is(err, session.ErrNoOperation):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrInvalidAttachment),
		errors.Is(err, session.ErrUnknownMode),
		errors.Is(err, session.ErrUnknownOperation),
		errors.Is(err, session.ErrTabRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
