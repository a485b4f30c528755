package session

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ReapInterval is how often the cleanup loop scans for expired sessions.
const ReapInterval = 60 * time.Second

// joinTimeout caps how long Shutdown waits for the cleanup loop to stop.
const joinTimeout = 5 * time.Second

// ErrNotFound is returned for operations on unknown session ids.
var ErrNotFound = fmt.Errorf("session not found")

// Manager owns the id to session map and the background reaper.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewManager returns an empty manager. Call StartCleanup to begin reaping
// expired disconnected sessions.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Create adds a new connected session. If id is empty a fresh one is
// generated; a supplied id that already exists is rejected.
func (m *Manager) Create(id, clientName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if _, ok := m.sessions[id]; ok {
			return nil, fmt.Errorf("session %s already exists", id)
		}
	}
	s := newSession(id, clientName)
	if _, ok := m.sessions[s.ID()]; ok {
		// uuid collision is not a practical concern but the invariant is
		// cheap to hold.
		return nil, fmt.Errorf("session %s already exists", s.ID())
	}
	m.sessions[s.ID()] = s
	return s, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Disconnect marks the session disconnected but retains it for
// post-mortem inspection until the reaper expires it.
func (m *Manager) Disconnect(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.Disconnect()
	return nil
}

// Remove disconnects the session and drops it immediately.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Disconnect()
	return nil
}

// All returns every retained session.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Active returns every session that is not disconnected.
func (m *Manager) Active() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.Disconnected() {
			out = append(out, s)
		}
	}
	return out
}

// Infos returns snapshots of every retained session sorted by creation
// time.
func (m *Manager) Infos() []Info {
	sessions := m.All()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Count returns the number of retained sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ActiveCount returns the number of non-disconnected sessions.
func (m *Manager) ActiveCount() int {
	return len(m.Active())
}

// reapExpired removes disconnected sessions whose last activity is older
// than the retention window. Returns the removed ids.
func (m *Manager) reapExpired() []string {
	cutoff := time.Now().Add(-Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, s := range m.sessions {
		if s.Disconnected() && s.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// StartCleanup launches the background reaper loop.
func (m *Manager) StartCleanup() {
	m.mu.Lock()
	if m.doneCh != nil {
		m.mu.Unlock()
		return
	}
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if removed := m.reapExpired(); len(removed) > 0 && m.logger != nil {
					m.logger.Printf("reaped %d expired sessions", len(removed))
				}
			}
		}
	}()
}

// Shutdown disconnects every session and stops the reaper, waiting up to
// five seconds for it to exit.
func (m *Manager) Shutdown() {
	for _, s := range m.All() {
		s.Disconnect()
	}
	m.once.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	done := m.doneCh
	m.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(joinTimeout):
		if m.logger != nil {
			m.logger.Printf("cleanup loop did not stop within %s", joinTimeout)
		}
	}
}
