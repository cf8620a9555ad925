// Package session tracks per-user editing state for the structure UI:
// which mode the user is in, which operation is open, and whether there
// are unsaved changes. The state lives server-side so every client of
// the API sees the same session, and it gates destructive actions: a
// mode switch with pending changes is rejected unless forced, and only
// one operation can be open at a time.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is the top-level session mode.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModeEdit     Mode = "edit"
)

// Operation is the currently open structure operation, OpNone when the
// session is clean.
type Operation string

const (
	OpNone   Operation = "none"
	OpEdit   Operation = "edit"
	OpAdd    Operation = "add"
	OpDelete Operation = "delete"
	OpInsert Operation = "insert"
	OpRemove Operation = "remove"
)

var (
	ErrUnsavedChanges   = errors.New("unsaved changes or an operation in progress")
	ErrNotInEditMode    = errors.New("not in edit mode")
	ErrOperationPending = errors.New("another operation is in progress")
	ErrNoOperation      = errors.New("no operation in progress")
	ErrUnknownMode      = errors.New("unknown mode")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrTabRequired      = errors.New("tab is required")
)

// ParseMode normalizes a raw mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReadOnly:
		return ModeReadOnly, nil
	case ModeEdit:
		return ModeEdit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// ParseOperation normalizes a raw operation string. OpNone is not a
// startable operation; clearing the session is its own call.
func ParseOperation(s string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(s))) {
	case OpEdit:
		return OpEdit, nil
	case OpAdd:
		return OpAdd, nil
	case OpDelete:
		return OpDelete, nil
	case OpInsert:
		return OpInsert, nil
	case OpRemove:
		return OpRemove, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
}

// State is one user's session. Values returned by the manager are
// copies; mutate through the manager only.
type State struct {
	Mode       Mode              `json:"mode"`
	Operation  Operation         `json:"operation"`
	HasChanges bool              `json:"hasChanges"`
	ActiveTab  string            `json:"activeTab,omitempty"`
	FormData   map[string]string `json:"formData,omitempty"`
	Status     string            `json:"status,omitempty"`
}

func defaultState() State {
	return State{Mode: ModeReadOnly, Operation: OpNone}
}

// IsViewing reports read-only mode.
func (s State) IsViewing() bool { return s.Mode == ModeReadOnly }

// IsEditing reports clean edit mode: no changes, no open operation.
func (s State) IsEditing() bool {
	return s.Mode == ModeEdit && !s.HasChanges && s.Operation == OpNone
}

// IsModifying reports edit mode with unsaved changes or an open
// operation.
func (s State) IsModifying() bool {
	return s.Mode == ModeEdit && (s.HasChanges || s.Operation != OpNone)
}

// FiltersEnabled reports whether list filters may be applied; filters
// are locked while a modification is in flight so the visible rows
// cannot shift under an open operation.
func (s State) FiltersEnabled() bool { return !s.IsModifying() }

// statusFor renders the operation feedback line shown in clients.
func statusFor(op Operation, tab string) string {
	switch op {
	case OpEdit:
		return "Editing " + tab
	case OpAdd:
		return "Adding to " + tab
	case OpDelete:
		return "Deleting from " + tab
	case OpInsert:
		return "Inserting into " + tab
	case OpRemove:
		return "Removing from " + tab
	default:
		return ""
	}
}
