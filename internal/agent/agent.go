// Package agent provides the per-session execution context.
//
// Each session gets its own Agent holding the active workspace, mode set,
// and tool registry view. The server additionally keeps one template agent
// that never belongs to a session; it serves catalog and prompt queries
// before any project is active.
package agent

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/citadel/internal/project"
	"github.com/steveyegge/citadel/internal/tools"
)

// Agent is a session-scoped execution context.
type Agent struct {
	mu       sync.Mutex
	catalog  *project.Catalog
	registry *tools.Registry
	active   *project.Project
	modes    []string
	logger   *log.Logger
	shutdown bool
}

// New builds an agent over the shared project catalog with the given
// starting modes. The tool registry is built per agent so each session
// has an isolated tool view scoped to its own workspace.
func New(catalog *project.Catalog, modes []string, logger *log.Logger) *Agent {
	a := &Agent{
		catalog: catalog,
		modes:   append([]string(nil), modes...),
		logger:  logger,
	}
	a.registry = tools.NewRegistry(tools.Builtin(a.activeRoot)...)
	return a
}

// activeRoot is the RootFunc handed to the filesystem tools.
func (a *Agent) activeRoot() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", fmt.Errorf("no active project")
	}
	return a.active.Root, nil
}

// ActivateProject resolves pathOrName against the catalog and makes the
// result the agent's active workspace.
func (a *Agent) ActivateProject(pathOrName string) (project.Project, error) {
	p, err := a.catalog.Resolve(pathOrName)
	if err != nil {
		return project.Project{}, err
	}
	a.mu.Lock()
	a.active = &p
	a.mu.Unlock()
	return p, nil
}

// ActiveProject returns the active workspace, if any.
func (a *Agent) ActiveProject() (project.Project, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return project.Project{}, false
	}
	return *a.active, true
}

// SetModes replaces the active mode list.
func (a *Agent) SetModes(modes []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modes = append([]string(nil), modes...)
}

// ActiveModes returns a copy of the active mode list.
func (a *Agent) ActiveModes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.modes...)
}

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tools.Registry {
	return a.registry
}

// ToolByName looks up a tool in the agent's registry.
func (a *Agent) ToolByName(name string) (tools.Tool, bool) {
	return a.registry.Get(name)
}

// ActiveToolNames returns the names of all tools the agent exposes.
func (a *Agent) ActiveToolNames() []string {
	return a.registry.Names()
}

// SystemPrompt renders the instruction preamble for the agent's current
// project and modes.
func (a *Agent) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b strings.Builder
	b.WriteString("You are a coding assistant operating through the Citadel gateway.\n")
	if a.active != nil {
		fmt.Fprintf(&b, "Active project: %s (root %s)\n", a.active.Name, a.active.Root)
	} else {
		b.WriteString("No project is active. Activate one before using filesystem tools.\n")
	}
	if len(a.modes) > 0 {
		fmt.Fprintf(&b, "Active modes: %s\n", strings.Join(a.modes, ", "))
	}
	b.WriteString("Available tools: " + strings.Join(a.registry.Names(), ", ") + "\n")
	return b.String()
}

// Shutdown releases the agent's resources. It is idempotent and
// best-effort: repeated calls are no-ops and failures are logged only.
func (a *Agent) Shutdown(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return
	}
	a.shutdown = true
	a.active = nil
	if a.logger != nil {
		a.logger.Printf("agent shut down")
	}
}
