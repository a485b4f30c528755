// Package tools defines the tool contract and the built-in read-only
// filesystem tools.
//
// A tool is invoked by name with a JSON argument map and returns a string.
// Failures never propagate as errors to the dispatch layer: SafeApply folds
// both returned errors and panics into "Error: ..." result strings so the
// HTTP contract stays uniform.
package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Tool is one externally-invokable capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the argument map.
	Parameters() map[string]interface{}
	// CanEdit reports whether the tool mutates the workspace.
	CanEdit() bool
	Apply(ctx context.Context, args map[string]interface{}) (string, error)
}

// Descriptor is the wire representation of a tool in catalog listings.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	CanEdit     bool                   `json:"can_edit"`
}

// Registry holds tools by name.
type Registry struct {
	mu    sync.Mutex
	tools map[string]Tool
}

// NewRegistry returns a registry pre-populated with the given tools.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

// Add registers a tool, replacing any previous tool of the same name.
func (r *Registry) Add(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all tool names sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the catalog in name order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
			CanEdit:     t.CanEdit(),
		})
	}
	return out
}

// SafeApply invokes a tool and folds every failure mode into a result
// string. A panic inside the tool is recovered and reported the same way
// a returned error is.
func SafeApply(ctx context.Context, t Tool, args map[string]interface{}, logger *log.Logger) (result string) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Printf("tool %s panicked: %v", t.Name(), r)
			}
			result = fmt.Sprintf("Error: tool %s panicked: %v", t.Name(), r)
		}
	}()
	out, err := t.Apply(ctx, args)
	if err != nil {
		if logger != nil {
			logger.Printf("tool %s failed: %v", t.Name(), err)
		}
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}
