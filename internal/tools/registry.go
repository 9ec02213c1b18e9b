package tools

import (
	"fmt"
	"sort"
	"sync"

	"zenus/internal/logging"
	"zenus/internal/types"
)

// Registry holds all available tools and resolves (tool, action) pairs.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Builtins creates a registry with every builtin tool registered.
// Backups for reversible file operations live under <root>/backups.
func Builtins(root string) *Registry {
	r := NewRegistry()
	r.MustRegister(newFileOps(root))
	r.MustRegister(newShellOps())
	r.MustRegister(newNetworkOps())
	r.MustRegister(newPackageOps())
	r.MustRegister(newServiceOps())
	r.MustRegister(newGitOps())
	r.MustRegister(newContainerOps())
	return r
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	logging.ToolsDebug("registered tool %s (class=%s, %d actions)", tool.Name, tool.Class, len(tool.Actions))
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Resolve maps a step's (tool, action) to the registered action.
// Unknown names are schema errors: the IR asked for something that
// does not exist.
func (r *Registry) Resolve(tool, action string) (*Tool, *Action, error) {
	t := r.Get(tool)
	if t == nil {
		return nil, nil, types.WithKind(types.KindSchema,
			fmt.Errorf("%w: %s", ErrToolNotFound, tool))
	}
	a, ok := t.Actions[action]
	if !ok {
		return nil, nil, types.WithKind(types.KindSchema,
			fmt.Errorf("%w: %s.%s", ErrActionNotFound, tool, action))
	}
	return t, a, nil
}

// ValidateArgs checks that the action's required arguments are present
// and non-empty strings where strings are expected.
func ValidateArgs(a *Action, args map[string]any) error {
	for _, key := range a.Required {
		v, ok := args[key]
		if !ok || v == nil {
			return types.WithKind(types.KindSchema,
				fmt.Errorf("%w: %s", ErrMissingRequiredArg, key))
		}
		if s, isStr := v.(string); isStr && s == "" {
			return types.WithKind(types.KindSchema,
				fmt.Errorf("%w: %s", ErrMissingRequiredArg, key))
		}
	}
	return nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
