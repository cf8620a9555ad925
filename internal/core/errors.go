package core

// errors.go translates technical errors into messages users can act on.
// Patterns are matched case-insensitively with strings.Contains; the
// first match wins, so specific patterns sit above general ones. Every
// message carries a code users can quote to support.
//
// Code ranges:
//
//	DB001-DB099   database constraints and connectivity
//	WB001-WB099   workbook parsing and format detection
//	IMP001-IMP099 import jobs and concurrency
//	STR001-STR099 structure change sets
//	EVT001-EVT099 event values
//	ERR000        fallback for unmatched errors
//
// When a user reports ERR000, the application log holds the original
// technical error.

import (
	"fmt"
	"strings"
)

// UserMessage is user-facing error information with actionable guidance.
type UserMessage struct {
	Message string // what happened
	Action  string // what to do about it
	Code    string // support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database constraints.
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with that name or identity already exists",
			Action:  "Rename the conflicting entry in your workbook and re-upload",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check your workbook for duplicate rows",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "The record refers to something that no longer exists",
			Action:  "Reload the page to pick up the current structure, then retry",
			Code:    "DB002",
		},
	},
	{
		pattern: "row-level security",
		msg: UserMessage{
			Message: "You do not have access to that record",
			Action:  "Sign in again or contact the owner of the data",
			Code:    "DB003",
		},
	},

	// Database connectivity.
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the database",
			Action:  "Please try again in a few moments",
			Code:    "DB010",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB011",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB012",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try a smaller workbook or try again later",
			Code:    "DB013",
		},
	},

	// Workbook handling.
	{
		pattern: "not a valid workbook",
		msg: UserMessage{
			Message: "The file could not be read as an Excel workbook or CSV",
			Action:  "Export it again as .xlsx or .csv and retry",
			Code:    "WB001",
		},
	},
	{
		pattern: "unrecognized workbook",
		msg: UserMessage{
			Message: "The file does not match any known template",
			Action:  "Start from a downloaded template so the sheet names and columns match",
			Code:    "WB002",
		},
	},
	{
		pattern: "missing required columns",
		msg: UserMessage{
			Message: "Required columns are missing from the sheet",
			Action:  "Keep the header row from the downloaded template intact",
			Code:    "WB003",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The sheet has headers but no data",
			Action:  "Add at least one data row below the header",
			Code:    "WB004",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The file exceeds the maximum upload size",
			Action:  "Split the workbook and import it in parts",
			Code:    "WB005",
		},
	},

	// Import jobs.
	{
		pattern: "too many concurrent jobs",
		msg: UserMessage{
			Message: "The system is busy with other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "The import job was not found",
			Action:  "The job may have finished and expired. Start a new import",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "IMP004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try a smaller workbook or check your connection",
			Code:    "IMP005",
		},
	},

	// Structure change sets.
	{
		pattern: "not confirmed",
		msg: UserMessage{
			Message: "The change set deletes data and needs confirmation",
			Action:  "Review the preview, then confirm to apply the deletions",
			Code:    "STR001",
		},
	},
	{
		pattern: "validation failed",
		msg: UserMessage{
			Message: "The workbook has validation errors",
			Action:  "Fix the listed rows and upload again",
			Code:    "STR002",
		},
	},
	{
		pattern: "no backup store",
		msg: UserMessage{
			Message: "Destructive changes need a backup first, but backups are not configured",
			Action:  "Enable backups, or skip the backup explicitly to proceed",
			Code:    "STR003",
		},
	},

	// Event values.
	{
		pattern: "is required",
		msg: UserMessage{
			Message: "A required attribute has no value",
			Action:  "Fill in every required attribute for the category",
			Code:    "EVT001",
		},
	},
	{
		pattern: "is not a number",
		msg: UserMessage{
			Message: "A number attribute received a non-numeric value",
			Action:  "Remove units and symbols from number cells",
			Code:    "EVT002",
		},
	},
	{
		pattern: "is not a date",
		msg: UserMessage{
			Message: "A date could not be parsed",
			Action:  "Use YYYY-MM-DD, DD.MM.YYYY, or an Excel date cell",
			Code:    "EVT003",
		},
	},
	{
		pattern: "is not a boolean",
		msg: UserMessage{
			Message: "A boolean attribute received something other than true or false",
			Action:  "Use TRUE or FALSE in boolean cells",
			Code:    "EVT004",
		},
	},
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The record was not found",
			Action:  "It may have been deleted. Reload and try again",
			Code:    "EVT005",
		},
	},
	{
		pattern: "already exists for this category",
		msg: UserMessage{
			Message: "An event already exists for this category and date",
			Action:  "Edit the existing event, or allow duplicates explicitly",
			Code:    "EVT006",
		},
	},
	{
		pattern: "invalid attachment",
		msg: UserMessage{
			Message: "The attachment could not be saved",
			Action:  "Use type image, link, or file and provide a URL",
			Code:    "EVT007",
		},
	},
}

// defaultMessage is the ERR000 fallback when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. The
// first matching pattern wins; unmatched errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders an error for display as
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether the error matches a known pattern, as
// opposed to falling through to the ERR000 default.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
