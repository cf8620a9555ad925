package web

// handlers_common.go holds the request and response plumbing the
// handler files share: JSON and workbook writers, multipart upload
// extraction, and query parameter parsing for pagination, sorts, and
// column filters.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
	"taxotrack/internal/logging"
	webmw "taxotrack/internal/web/middleware"
)

const (
	dateLayout      = "2006-01-02"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// maxEventSorts caps how many sort columns one listing accepts,
	// matching the two order levels the store renders.
	maxEventSorts = 2
	// maxPageSize bounds page_size from the query string. Internal
	// callers like the exporter pass larger pages directly.
	maxPageSize = 500
)

// writeJSON encodes v with the given status. Encoding failures are
// logged since the status line is already gone.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}

// badRequest reports a request-shape problem without routing it through
// the error mapper.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   msg,
		Message: msg,
		Code:    "WEB400",
	})
}

// sendWorkbook streams the workbook as an attachment download.
func sendWorkbook(w http.ResponseWriter, r *http.Request, f *excelize.File, filename string) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := f.Write(w); err != nil {
		logging.FromContext(r.Context()).Error("workbook stream failed",
			"file", filename,
			"error", err,
		)
	}
}

// openUpload pulls the uploaded workbook out of the multipart form
// under the configured size cap. The caller closes the returned file.
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, string, error) {
	maxSize := s.opts.Imports.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, "", fmt.Errorf("file too large or invalid form (max %s): %w", humanize.Bytes(uint64(maxSize)), err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("no file provided: %w", err)
	}
	return file, filepath.Base(header.Filename), nil
}

// userFrom returns the authenticated user; BearerAuth guarantees it on
// every route that reaches a handler.
func userFrom(r *http.Request) uuid.UUID {
	id, _ := webmw.UserID(r.Context())
	return id
}

// errBadParam marks request-shape problems whose message is safe to
// return verbatim.
var errBadParam = errors.New("bad parameter")

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", errBadParam, name, raw)
	}
	return id, nil
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseListOptions builds event listing options from the query string:
// category_id, from/to dates, page, page_size, sort/dir lists, and
// filter[Column]=op:value entries.
func parseListOptions(r *http.Request, snap *core.Snapshot) (core.EventListOptions, error) {
	opts := core.EventListOptions{
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "page_size", 50),
		Sorts:    parseSorts(r),
		Filters:  parseFilters(r, snap),
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid category_id %q", raw)
		}
		opts.CategoryID = id
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return opts, fmt.Errorf("invalid from date %q, want YYYY-MM-DD", raw)
		}
		opts.From = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return opts, fmt.Errorf("invalid to date %q, want YYYY-MM-DD", raw)
		}
		opts.To = &t
	}
	return opts, nil
}

// parseSorts reads comma-separated sort and dir query parameters.
func parseSorts(r *http.Request) []core.SortSpec {
	sortStr := r.URL.Query().Get("sort")
	if sortStr == "" {
		return nil
	}
	dirs := strings.Split(r.URL.Query().Get("dir"), ",")

	var sorts []core.SortSpec
	for i, col := range strings.Split(sortStr, ",") {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		dir := "asc"
		if i < len(dirs) && strings.TrimSpace(dirs[i]) == "desc" {
			dir = "desc"
		}
		sorts = append(sorts, core.SortSpec{Column: col, Dir: dir})
		if len(sorts) >= maxEventSorts {
			break
		}
	}
	return sorts
}

// parseFilters extracts filter[Column]=op:value query entries. Columns
// resolve against the snapshot's attribute names plus the fixed date
// and comment columns; unknown columns and invalid operators are
// dropped rather than rejected.
func parseFilters(r *http.Request, snap *core.Snapshot) core.FilterSet {
	var filters []core.AttributeFilter

	for key, values := range r.URL.Query() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		colName := key[7 : len(key)-1]
		if colName == "" {
			continue
		}

		dt, ok := filterColumnType(snap, colName)
		if !ok {
			continue
		}

		for _, val := range values {
			op, filterVal, found := strings.Cut(val, ":")
			if !found || filterVal == "" {
				continue
			}
			operator := core.FilterOperator(op)
			if !validFilterOp(operator, dt) {
				continue
			}
			filters = append(filters, core.AttributeFilter{
				Column:   colName,
				Operator: operator,
				Value:    filterVal,
				Type:     dt,
			})
		}
	}
	return core.FilterSet{Filters: filters}
}

// filterColumnType resolves a filter column to its value type. The
// fixed event columns come first; attribute names match case-
// insensitively, and when categories reuse a name with different types,
// number wins so comparisons stay numeric.
func filterColumnType(snap *core.Snapshot, column string) (core.DataType, bool) {
	switch strings.ToLower(column) {
	case "date":
		return core.TypeDateTime, true
	case "comment":
		return core.TypeText, true
	}

	var found core.DataType
	ok := false
	for _, a := range snap.Attributes {
		if !strings.EqualFold(a.Name, column) {
			continue
		}
		if !ok || a.DataType == core.TypeNumber {
			found = a.DataType
		}
		ok = true
	}
	return found, ok
}

// validFilterOp reports whether the operator makes sense for the type.
func validFilterOp(op core.FilterOperator, dt core.DataType) bool {
	switch dt {
	case core.TypeText, core.TypeLink, core.TypeImage:
		switch op {
		case core.OpContains, core.OpEquals, core.OpStartsWith, core.OpEndsWith, core.OpIn:
			return true
		}
	case core.TypeNumber:
		switch op {
		case core.OpEquals, core.OpGreaterEq, core.OpLessEq, core.OpGreater, core.OpLess:
			return true
		}
	case core.TypeDateTime:
		switch op {
		case core.OpEquals, core.OpGreaterEq, core.OpLessEq, core.OpGreater, core.OpLess:
			return true
		}
	case core.TypeBoolean:
		return op == core.OpEquals
	}
	return false
}
