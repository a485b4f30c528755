package server

import (
	"sync"
	"time"
)

// Server-local lifecycle event types.
const (
	EventServerStarted       = "server_started"
	EventServerShutdown      = "server_shutdown"
	EventSessionCreated      = "session_created"
	EventSessionDisconnected = "session_disconnected"
	EventToolExecuted        = "tool_executed"
	EventProjectActivated    = "project_activated"
	EventModesChanged        = "modes_changed"
)

// maxServerEvents bounds the in-process event ring.
const maxServerEvents = 500

// LifecycleEvent is one server-local audit record.
type LifecycleEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// eventRing keeps the newest maxServerEvents events under its own lock.
type eventRing struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *eventRing) record(eventType, sessionID string, details map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, LifecycleEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
	if len(r.events) > maxServerEvents {
		r.events = r.events[len(r.events)-maxServerEvents:]
	}
}

// newest returns up to limit of the most recent events, oldest first. A
// non-positive limit returns everything retained.
func (r *eventRing) newest(limit int) []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]LifecycleEvent, len(events))
	copy(out, events)
	return out
}
