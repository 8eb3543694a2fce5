// Package tools defines the named-tool capability consumed by the workflow's
// tool execution stage: a uniform invocation interface plus a static registry
// keyed by tool name. Each tool carries its own retry and result-shaping
// policy; the registry itself never retries.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/BaSui01/scholarflow/types"
)

// Tool represents a named external capability with a declared input schema.
// Invoke returns either a JSON result payload or an error; callers fold
// errors into data rather than propagating them.
type Tool interface {
	// Name returns the unique tool name.
	Name() string
	// Schema returns the tool's declaration for LLM function calling.
	Schema() types.ToolSchema
	// Invoke executes the tool with JSON-encoded arguments.
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry is a static, name-keyed tool registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in sorted order.
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

// Schemas returns the declarations of all registered tools, sorted by name.
func (r *Registry) Schemas() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]types.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}
