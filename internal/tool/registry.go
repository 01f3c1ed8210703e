package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves tool names to executables. It is constructed once and
// injected into the engine; there is no ambient global registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting duplicate names.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool registration requires a named tool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool already exists: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister registers the tools and panics on conflict. Intended for
// static builtin sets wired at startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return t, nil
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

// ValidateArgs checks the invocation arguments against the tool's declared
// parameters. Missing required arguments and undeclared arguments are both
// mismatches.
func ValidateArgs(t Tool, args map[string]any) error {
	declared := make(map[string]Param, len(t.Params()))
	for _, p := range t.Params() {
		declared[p.Name] = p
	}
	for _, p := range declared {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return fmt.Errorf("tool %s: missing required argument %q", t.Name(), p.Name)
		}
	}
	for name := range args {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("tool %s: undeclared argument %q", t.Name(), name)
		}
	}
	return nil
}
