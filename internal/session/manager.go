package session

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

type entry struct {
	state   State
	touched time.Time
}

// Manager holds the sessions of all users behind one mutex. Sessions
// are created lazily on first mutation and expire after the idle
// timeout; every access refreshes the timer.
type Manager struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	idle    time.Duration
	logger  *slog.Logger
}

// NewManager builds a manager with the given idle timeout. A zero or
// negative timeout falls back to 30 minutes.
func NewManager(idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		entries: make(map[uuid.UUID]*entry),
		idle:    idleTimeout,
		logger:  logger.With("component", "session"),
	}
}

// Get returns the user's session, or the read-only default when none
// exists. Reading an existing session refreshes its idle timer.
func (m *Manager) Get(userID uuid.UUID) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		return defaultState()
	}
	e.touched = time.Now()
	return snapshot(e)
}

// SetMode switches between read-only and edit mode. Switching away
// with unsaved changes or an open operation fails with
// ErrUnsavedChanges unless force is set; forcing drops everything.
func (m *Manager) SetMode(userID uuid.UUID, mode Mode, force bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(userID)
	if e.state.Mode == mode {
		return snapshot(e), nil
	}
	if !force && (e.state.HasChanges || e.state.Operation != OpNone) {
		return snapshot(e), ErrUnsavedChanges
	}

	e.state = defaultState()
	e.state.Mode = mode
	return snapshot(e), nil
}

// StartOperation opens an operation on a tab. The session must be in
// edit mode with no different operation already open; reposting the
// same operation just updates the tab.
func (m *Manager) StartOperation(userID uuid.UUID, op Operation, tab string) (State, error) {
	if _, err := ParseOperation(string(op)); err != nil {
		return State{}, err
	}
	if tab == "" {
		return State{}, ErrTabRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(userID)
	if e.state.IsViewing() {
		return snapshot(e), ErrNotInEditMode
	}
	if e.state.Operation != OpNone && e.state.Operation != op {
		return snapshot(e), ErrOperationPending
	}

	e.state.Operation = op
	e.state.ActiveTab = tab
	e.state.Status = statusFor(op, tab)
	switch op {
	case OpEdit:
		// Opening the row editor counts as a pending change.
		e.state.HasChanges = true
	case OpAdd:
		// A fresh form has nothing to lose yet.
		e.state.HasChanges = false
		e.state.FormData = nil
	}
	return snapshot(e), nil
}

// UpdateForm replaces the scratch form data of the open operation.
func (m *Manager) UpdateForm(userID uuid.UUID, data map[string]string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(userID)
	if e.state.IsViewing() {
		return snapshot(e), ErrNotInEditMode
	}
	if e.state.Operation == OpNone {
		return snapshot(e), ErrNoOperation
	}
	e.state.FormData = maps.Clone(data)
	return snapshot(e), nil
}

// Clear closes the open operation and drops pending changes, keeping
// the current mode. Saves, discards, and cancels all land here.
func (m *Manager) Clear(userID uuid.UUID) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryFor(userID)
	mode := e.state.Mode
	e.state = defaultState()
	e.state.Mode = mode
	return snapshot(e)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps idle sessions until the context is canceled.
func (m *Manager) Run(ctx context.Context, sweepEvery time.Duration) {
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepInterval
	}
	m.logger.Info("session sweeper started",
		"idle_timeout", m.idle.String(),
		"sweep_interval", sweepEvery.String())

	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := m.sweep(time.Now()); n > 0 {
				m.logger.Debug("idle sessions removed", "count", n)
			}
		}
	}
}

// sweep removes sessions idle past the timeout and reports how many.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if now.Sub(e.touched) > m.idle {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// entryFor returns the user's entry, creating the default session on
// first use. Callers hold the mutex.
func (m *Manager) entryFor(userID uuid.UUID) *entry {
	e, ok := m.entries[userID]
	if !ok {
		e = &entry{state: defaultState()}
		m.entries[userID] = e
	}
	e.touched = time.Now()
	return e
}

// snapshot copies an entry's state, including the form map, so callers
// never alias manager-owned memory.
func snapshot(e *entry) State {
	st := e.state
	st.FormData = maps.Clone(st.FormData)
	return st
}
