// Package session tracks agent session state and persists normalized
// timeline entries.
package session

import (
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of one agent session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusWaiting      Status = "waiting"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// Session is one tracked agent session.
type Session struct {
	ID      string `json:"id"`
	PanelID string `json:"panelId"`
	Tool    string `json:"tool"`
	WorkDir string `json:"workDir,omitempty"`

	// AgentSessionID is the resume token reported by the CLI once the
	// underlying conversation exists. It survives process cleanup so the
	// session can be resumed later.
	AgentSessionID string `json:"agentSessionId,omitempty"`

	Status       Status    `json:"status"`
	StatusDetail string    `json:"statusDetail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TimelineStatus is the lifecycle state of one timeline operation.
type TimelineStatus string

const (
	TimelineStarted  TimelineStatus = "started"
	TimelineFinished TimelineStatus = "finished"
	TimelineFailed   TimelineStatus = "failed"
)

// TimelineEvent records one operation bookkeeping change, such as an RPC
// being sent or a turn completing.
type TimelineEvent struct {
	SessionID  string         `json:"sessionId"`
	PanelID    string         `json:"panelId"`
	Kind       string         `json:"kind"`
	Status     TimelineStatus `json:"status"`
	Command    string         `json:"command,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	DurationMS int64          `json:"durationMs,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ErrSessionNotFound is returned for lookups of unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager is the session-state surface executors depend on.
type Manager interface {
	GetSession(id string) (*Session, error)
	UpdateSessionStatus(id string, status Status, detail string) error
	SetAgentSessionID(id, agentSessionID string) error
	AddTimelineEvent(ev TimelineEvent) error
}

// MemoryManager is an in-memory Manager. It backs the CLI's single-process
// mode and the executor tests.
type MemoryManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	events   []TimelineEvent
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager returns an empty manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{sessions: make(map[string]*Session)}
}

// CreateSession registers a new session in the initializing state.
func (m *MemoryManager) CreateSession(id, panelID, tool, workDir string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	s := &Session{
		ID:        id,
		PanelID:   panelID,
		Tool:      tool,
		WorkDir:   workDir,
		Status:    StatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = s

	snapshot := *s

	return &snapshot
}

// GetSession returns a copy of the session, or ErrSessionNotFound.
func (m *MemoryManager) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	snapshot := *s

	return &snapshot, nil
}

// UpdateSessionStatus transitions a session's status.
func (m *MemoryManager) UpdateSessionStatus(id string, status Status, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	s.Status = status
	s.StatusDetail = detail
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// SetAgentSessionID stores the CLI's resume token on the session.
func (m *MemoryManager) SetAgentSessionID(id, agentSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	s.AgentSessionID = agentSessionID
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// AddTimelineEvent appends one operation bookkeeping event.
func (m *MemoryManager) AddTimelineEvent(ev TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)

	return nil
}

// Events returns a snapshot of recorded timeline events.
func (m *MemoryManager) Events() []TimelineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TimelineEvent, len(m.events))
	copy(out, m.events)

	return out
}
