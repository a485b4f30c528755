// Package session implements the in-process lifecycle of client sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session states. Idle is derived on read and never stored.
const (
	StateConnected    = "connected"
	StateActive       = "active"
	StateIdle         = "idle"
	StateDisconnected = "disconnected"
)

// IdleThreshold is how long a session may sit without activity before it
// reads as idle.
const IdleThreshold = 300 * time.Second

// Retention is how long a disconnected session is kept for inspection
// before the reaper removes it.
const Retention = 3600 * time.Second

// Session is the unit of client isolation inside one server process.
// All fields are guarded by mu; exported accessors take the lock.
type Session struct {
	mu sync.Mutex

	id           string
	clientName   string
	createdAt    time.Time
	lastActivity time.Time
	state        string

	projectName string
	projectRoot string
	modes       []string

	toolCalls       int
	toolCallsByTool map[string]int
}

// Info is a consistent snapshot of a session, shaped for the HTTP API.
type Info struct {
	SessionID         string         `json:"session_id"`
	ClientName        string         `json:"client_name,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	LastActivity      time.Time      `json:"last_activity"`
	State             string         `json:"state"`
	ActiveProjectName string         `json:"active_project_name,omitempty"`
	ActiveProjectRoot string         `json:"active_project_root,omitempty"`
	ActiveModes       []string       `json:"active_modes"`
	ToolCallCount     int            `json:"tool_call_count"`
	ToolCallsByTool   map[string]int `json:"tool_calls_by_tool,omitempty"`
}

func newSession(id, clientName string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		id:              id,
		clientName:      clientName,
		createdAt:       now,
		lastActivity:    now,
		state:           StateConnected,
		toolCallsByTool: make(map[string]int),
	}
}

// ID returns the session's immutable identifier.
func (s *Session) ID() string { return s.id }

// touch advances last_activity. Callers must hold mu.
func (s *Session) touch() {
	now := time.Now()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
}

// State returns the current state, deriving idle from inactivity. The
// computation happens under the lock so last_activity is never torn.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() string {
	if s.state == StateConnected || s.state == StateActive {
		if time.Since(s.lastActivity) > IdleThreshold {
			return StateIdle
		}
	}
	return s.state
}

// Disconnected reports whether the session has been disconnected.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateDisconnected
}

// Disconnect transitions the session to disconnected. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	s.touch()
}

// SetProject records the active workspace and promotes the session to
// active.
func (s *Session) SetProject(name, root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectName = name
	s.projectRoot = root
	if s.state == StateConnected {
		s.state = StateActive
	}
	s.touch()
}

// SetModes replaces the active mode list.
func (s *Session) SetModes(modes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append([]string(nil), modes...)
	s.touch()
}

// Modes returns a copy of the active mode list.
func (s *Session) Modes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.modes...)
}

// IncrementToolCalls bumps the total counter and the named tool's counter.
func (s *Session) IncrementToolCalls(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls++
	s.toolCallsByTool[toolName]++
	s.touch()
}

// ToolCallCount returns the total number of tool calls.
func (s *Session) ToolCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolCalls
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Snapshot returns a consistent view of every session field.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTool := make(map[string]int, len(s.toolCallsByTool))
	for k, v := range s.toolCallsByTool {
		byTool[k] = v
	}
	modes := append([]string(nil), s.modes...)
	if modes == nil {
		modes = []string{}
	}
	return Info{
		SessionID:         s.id,
		ClientName:        s.clientName,
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		State:             s.stateLocked(),
		ActiveProjectName: s.projectName,
		ActiveProjectRoot: s.projectRoot,
		ActiveModes:       modes,
		ToolCallCount:     s.toolCalls,
		ToolCallsByTool:   byTool,
	}
}
