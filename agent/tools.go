package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/planact/gateway"
)

// ToolDefinition describes a tool for the model.
type ToolDefinition = gateway.ToolDefinition

// Tool is an executable capability the model can call. Execute receives the
// parsed arguments and returns a result map; a "success" key, when present,
// decides whether the call is reported as successful.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t ToolFunc) Definition() ToolDefinition { return t.Def }

func (t ToolFunc) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	return t.Fn(ctx, args)
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates a ToolRegistry holding the given tools.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool definitions sorted by name, so the model
// sees a stable tool list.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. Unknown names yield ErrToolNotFound.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args)
}
