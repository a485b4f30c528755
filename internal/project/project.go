// Package project resolves and tracks workspaces a session can activate.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Project is one activatable workspace.
type Project struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

// Catalog maps registered project names to roots and resolves activation
// requests given either a registered name or a filesystem path.
type Catalog struct {
	mu       sync.Mutex
	projects map[string]Project
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{projects: make(map[string]Project)}
}

// Register adds or replaces a named project.
func (c *Catalog) Register(name, root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[name] = Project{Name: name, Root: root}
}

// Get looks up a project by registered name.
func (c *Catalog) Get(name string) (Project, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projects[name]
	return p, ok
}

// List returns all registered projects sorted by name.
func (c *Catalog) List() []Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve turns a registered name or a filesystem path into a Project.
// A path argument must be an existing directory; the resulting project is
// named after its basename and registered for later lookups by name.
func (c *Catalog) Resolve(pathOrName string) (Project, error) {
	if pathOrName == "" {
		return Project{}, fmt.Errorf("empty project name or path")
	}
	if p, ok := c.Get(pathOrName); ok {
		return p, nil
	}
	abs, err := filepath.Abs(pathOrName)
	if err != nil {
		return Project{}, fmt.Errorf("resolving project path %q: %w", pathOrName, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Project{}, fmt.Errorf("unknown project %q: no registered project and no such directory", pathOrName)
	}
	if !info.IsDir() {
		return Project{}, fmt.Errorf("project path %q is not a directory", pathOrName)
	}
	p := Project{Name: filepath.Base(abs), Root: abs}
	c.mu.Lock()
	c.projects[p.Name] = p
	c.mu.Unlock()
	return p, nil
}
