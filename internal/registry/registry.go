// Package registry implements the host-local shared catalog of running
// gateway processes.
//
// The entire registry is one JSON document on disk, guarded by an advisory
// file lock so independently-started processes can mutate it safely. Every
// operation follows the same discipline: lock, load, mutate in memory,
// write atomically via temp-and-rename, unlock. A corrupt document is
// treated as empty so one bad write never wedges the host.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/citadel/internal/util"
)

// Instance states.
const (
	StateLiveNoProject   = "live_no_project"
	StateLiveWithProject = "live_with_project"
	StateZombie          = "zombie"
)

// Lifecycle event types.
const (
	EventInstanceStarted    = "instance_started"
	EventInstanceStopped    = "instance_stopped"
	EventProjectActivated   = "project_activated"
	EventProjectDeactivated = "project_deactivated"
	EventZombieDetected     = "zombie_detected"
	EventHeartbeatRestored  = "heartbeat_restored"
	EventZombiePruned       = "zombie_pruned"
	EventZombieForceKilled  = "zombie_force_killed"
)

// FileName and LockName are the registry's on-disk artifacts inside the
// user dir.
const (
	FileName = "instances.json"
	LockName = "instances.lock"
)

// maxEvents bounds the event ring; older entries are dropped at save time.
const maxEvents = 1000

// lockTimeout is the hard cap on waiting for the file lock. Contention
// past this is an error, never a silent wait.
const lockTimeout = 10 * time.Second

// DefaultPruneTimeout is how long a zombie must sit before PruneZombies
// removes it.
const DefaultPruneTimeout = 300 * time.Second

// InstanceInfo is one gateway process as recorded in the registry.
type InstanceInfo struct {
	PID              int        `json:"pid"`
	Port             int        `json:"port"`
	StartedAt        time.Time  `json:"started_at"`
	LastHeartbeat    time.Time  `json:"last_heartbeat"`
	Context          string     `json:"context,omitempty"`
	Modes            []string   `json:"modes,omitempty"`
	ProjectName      string     `json:"project_name,omitempty"`
	ProjectRoot      string     `json:"project_root,omitempty"`
	State            string     `json:"state"`
	ZombieDetectedAt *time.Time `json:"zombie_detected_at,omitempty"`
}

// Event is one registry lifecycle event.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	PID         int       `json:"pid"`
	Port        int       `json:"port"`
	ProjectName string    `json:"project_name,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// document is the registry file's full contents. Instance keys are pids
// as decimal strings.
type document struct {
	Instances           map[string]*InstanceInfo `json:"instances"`
	LifecycleEvents     []Event                  `json:"lifecycle_events"`
	GlobalDashboardPID  int                      `json:"global_dashboard_pid,omitempty"`
	GlobalDashboardPort int                      `json:"global_dashboard_port,omitempty"`
}

func emptyDocument() *document {
	return &document{Instances: make(map[string]*InstanceInfo)}
}

func (d *document) instance(pid int) (*InstanceInfo, bool) {
	inst, ok := d.Instances[strconv.Itoa(pid)]
	return inst, ok
}

func (d *document) record(ev Event) {
	ev.Timestamp = time.Now()
	d.LifecycleEvents = append(d.LifecycleEvents, ev)
}

// Registry is a handle on the shared registry file.
type Registry struct {
	path     string
	lockPath string
	logger   *log.Logger
}

// New returns a registry rooted at dir (normally the user's ~/.citadel).
func New(dir string, logger *log.Logger) *Registry {
	return &Registry{
		path:     filepath.Join(dir, FileName),
		lockPath: filepath.Join(dir, LockName),
		logger:   logger,
	}
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// load reads the document from disk. Missing or corrupt files yield an
// empty document; the next save overwrites the bad contents.
func (r *Registry) load() *document {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) && r.logger != nil {
			r.logger.Printf("registry read failed, starting empty: %v", err)
		}
		return emptyDocument()
	}
	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		if r.logger != nil {
			r.logger.Printf("registry file corrupt, starting empty: %v", err)
		}
		return emptyDocument()
	}
	if doc.Instances == nil {
		doc.Instances = make(map[string]*InstanceInfo)
	}
	return doc
}

func (r *Registry) save(doc *document) error {
	if len(doc.LifecycleEvents) > maxEvents {
		doc.LifecycleEvents = doc.LifecycleEvents[len(doc.LifecycleEvents)-maxEvents:]
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := util.WriteFileAtomic(r.path, data, 0644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}

// withLock runs fn against the current document under the file lock and
// saves the result when fn asks for it.
func (r *Registry) withLock(fn func(doc *document) (save bool, err error)) error {
	fl := flock.New(r.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("registry lock timed out after %s", lockTimeout)
	}
	defer fl.Unlock()

	doc := r.load()
	save, err := fn(doc)
	if err != nil {
		return err
	}
	if save {
		return r.save(doc)
	}
	return nil
}

// Register inserts or refreshes the instance for pid. A re-register of a
// zombie restores it to live and emits a heartbeat_restored event.
func (r *Registry) Register(pid, port int, contextName string, modes []string) (InstanceInfo, error) {
	var out InstanceInfo
	err := r.withLock(func(doc *document) (bool, error) {
		now := time.Now()
		inst, ok := doc.instance(pid)
		if !ok {
			inst = &InstanceInfo{
				PID:           pid,
				Port:          port,
				StartedAt:     now,
				LastHeartbeat: now,
				Context:       contextName,
				Modes:         append([]string(nil), modes...),
				State:         StateLiveNoProject,
			}
			doc.Instances[strconv.Itoa(pid)] = inst
			doc.record(Event{Type: EventInstanceStarted, PID: pid, Port: port})
		} else {
			inst.Port = port
			inst.LastHeartbeat = now
			inst.Context = contextName
			inst.Modes = append([]string(nil), modes...)
			if inst.State == StateZombie {
				inst.State = StateLiveNoProject
				inst.ZombieDetectedAt = nil
				doc.record(Event{Type: EventHeartbeatRestored, PID: pid, Port: port})
			}
		}
		out = *inst
		return true, nil
	})
	return out, err
}

// UpdateProject records a workspace activation or deactivation for pid.
// Unknown pids are a no-op.
func (r *Registry) UpdateProject(pid int, name, root string) error {
	return r.withLock(func(doc *document) (bool, error) {
		inst, ok := doc.instance(pid)
		if !ok {
			return false, nil
		}
		prev := inst.ProjectName
		inst.ProjectName = name
		inst.ProjectRoot = root
		inst.LastHeartbeat = time.Now()
		if name != "" {
			inst.State = StateLiveWithProject
			if name != prev {
				doc.record(Event{Type: EventProjectActivated, PID: pid, Port: inst.Port, ProjectName: name})
			}
		} else if prev != "" {
			inst.State = StateLiveNoProject
			doc.record(Event{Type: EventProjectDeactivated, PID: pid, Port: inst.Port, ProjectName: prev})
		}
		return true, nil
	})
}

// UpdateHeartbeat touches pid's heartbeat, restoring a zombie to the
// appropriate live state.
func (r *Registry) UpdateHeartbeat(pid int) error {
	return r.withLock(func(doc *document) (bool, error) {
		inst, ok := doc.instance(pid)
		if !ok {
			return false, nil
		}
		inst.LastHeartbeat = time.Now()
		if inst.State == StateZombie {
			if inst.ProjectName != "" {
				inst.State = StateLiveWithProject
			} else {
				inst.State = StateLiveNoProject
			}
			inst.ZombieDetectedAt = nil
			doc.record(Event{Type: EventHeartbeatRestored, PID: pid, Port: inst.Port})
		}
		return true, nil
	})
}

// MarkZombie flags pid as unresponsive. Only the first transition from a
// live state emits an event.
func (r *Registry) MarkZombie(pid int) error {
	return r.withLock(func(doc *document) (bool, error) {
		inst, ok := doc.instance(pid)
		if !ok {
			return false, nil
		}
		if inst.State == StateZombie {
			return false, nil
		}
		now := time.Now()
		inst.State = StateZombie
		inst.ZombieDetectedAt = &now
		doc.record(Event{Type: EventZombieDetected, PID: pid, Port: inst.Port})
		return true, nil
	})
}

// Unregister removes pid from the registry.
func (r *Registry) Unregister(pid int) error {
	return r.withLock(func(doc *document) (bool, error) {
		inst, ok := doc.instance(pid)
		if !ok {
			return false, nil
		}
		doc.record(Event{Type: EventInstanceStopped, PID: pid, Port: inst.Port})
		delete(doc.Instances, strconv.Itoa(pid))
		return true, nil
	})
}

// PruneZombies removes every zombie older than timeout and returns the
// pruned pids.
func (r *Registry) PruneZombies(timeout time.Duration) ([]int, error) {
	var pruned []int
	err := r.withLock(func(doc *document) (bool, error) {
		now := time.Now()
		for key, inst := range doc.Instances {
			if inst.State != StateZombie || inst.ZombieDetectedAt == nil {
				continue
			}
			if now.Sub(*inst.ZombieDetectedAt) > timeout {
				doc.record(Event{Type: EventZombiePruned, PID: inst.PID, Port: inst.Port})
				delete(doc.Instances, key)
				pruned = append(pruned, inst.PID)
			}
		}
		sort.Ints(pruned)
		return len(pruned) > 0, nil
	})
	return pruned, err
}

// RecordForceKill logs a force-kill attempt against pid and removes the
// entry when the kill succeeded.
func (r *Registry) RecordForceKill(pid int, success bool) error {
	return r.withLock(func(doc *document) (bool, error) {
		port := 0
		if inst, ok := doc.instance(pid); ok {
			port = inst.Port
		}
		msg := "force-kill failed"
		if success {
			msg = "force-kill succeeded"
		}
		doc.record(Event{Type: EventZombieForceKilled, PID: pid, Port: port, Message: msg})
		if success {
			delete(doc.Instances, strconv.Itoa(pid))
		}
		return true, nil
	})
}

// SetGlobalDashboard records the fleet dashboard's pid and port.
func (r *Registry) SetGlobalDashboard(pid, port int) error {
	return r.withLock(func(doc *document) (bool, error) {
		doc.GlobalDashboardPID = pid
		doc.GlobalDashboardPort = port
		return true, nil
	})
}

// GetGlobalDashboard returns the recorded fleet dashboard pid and port.
// ok is false when none is recorded.
func (r *Registry) GetGlobalDashboard() (pid, port int, ok bool, err error) {
	err = r.withLock(func(doc *document) (bool, error) {
		pid = doc.GlobalDashboardPID
		port = doc.GlobalDashboardPort
		ok = port != 0
		return false, nil
	})
	return pid, port, ok, err
}

// ClearGlobalDashboard clears the dashboard record, but only if pid
// matches the recorded owner. A stale shutdown from a replaced dashboard
// must not erase the fresh record.
func (r *Registry) ClearGlobalDashboard(pid int) error {
	return r.withLock(func(doc *document) (bool, error) {
		if doc.GlobalDashboardPID != pid {
			return false, nil
		}
		doc.GlobalDashboardPID = 0
		doc.GlobalDashboardPort = 0
		return true, nil
	})
}

// ListInstances returns every recorded instance sorted by pid.
func (r *Registry) ListInstances() ([]InstanceInfo, error) {
	var out []InstanceInfo
	err := r.withLock(func(doc *document) (bool, error) {
		for _, inst := range doc.Instances {
			out = append(out, *inst)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
		return false, nil
	})
	return out, err
}

// GetInstance returns the instance recorded for pid.
func (r *Registry) GetInstance(pid int) (InstanceInfo, bool, error) {
	var out InstanceInfo
	var found bool
	err := r.withLock(func(doc *document) (bool, error) {
		if inst, ok := doc.instance(pid); ok {
			out = *inst
			found = true
		}
		return false, nil
	})
	return out, found, err
}

// LifecycleEvents returns the newest limit events, oldest first. A
// non-positive limit returns the whole ring.
func (r *Registry) LifecycleEvents(limit int) ([]Event, error) {
	var out []Event
	err := r.withLock(func(doc *document) (bool, error) {
		events := doc.LifecycleEvents
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
		out = append(out, events...)
		return false, nil
	})
	return out, err
}
