// Package registry holds tool implementations keyed by name and dispatches
// calls to them.
//
// A Registry is an explicit object: it is populated by a discovery pass over
// named locations before any dispatch happens and is read-only afterwards,
// except through Discover, which swaps in a fresh table under the write lock.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/types"
)

// Handler executes a tool with validated keyword arguments
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool pairs an advertised descriptor with its entry point
type Tool struct {
	Spec    mcp.Tool
	Handler Handler
}

// DuplicatePolicy decides what happens when a name is registered twice
type DuplicatePolicy int

const (
	// RejectDuplicates keeps the first registration and returns a DuplicateToolError
	RejectDuplicates DuplicatePolicy = iota
	// OverwriteDuplicates replaces the earlier tool, keeping its schema position
	OverwriteDuplicates
)

// ParseDuplicatePolicy maps the config spelling onto a policy
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "reject":
		return RejectDuplicates, nil
	case "overwrite":
		return OverwriteDuplicates, nil
	default:
		return RejectDuplicates, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Registry maps tool names to implementations
type Registry struct {
	mu     sync.RWMutex
	policy DuplicatePolicy
	tools  map[string]Tool
	order  []string
}

// New creates an empty registry with the given collision policy
func New(policy DuplicatePolicy) *Registry {
	return &Registry{
		policy: policy,
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool under its descriptor name
func (r *Registry) Register(tool Tool) error {
	name := tool.Spec.Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		if r.policy == RejectDuplicates {
			return &types.DuplicateToolError{Tool: name}
		}
		r.tools[name] = tool
		return nil
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers every tool and panics on the first failure
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the tool registered under name
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns every descriptor in registration order
func (r *Registry) Specs() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Len reports the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// replace swaps the whole table with the staged one
func (r *Registry) replace(staged *Registry) {
	staged.mu.RLock()
	tools := staged.tools
	order := staged.order
	staged.mu.RUnlock()

	r.mu.Lock()
	r.tools = tools
	r.order = order
	r.mu.Unlock()
}
