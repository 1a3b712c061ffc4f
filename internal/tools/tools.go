// ABOUTME: Tool registry holding the MCP tool set exposed by the bridge
// ABOUTME: Pairs JSON-schema definitions with handler functions

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Definition describes one MCP tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// HandlerFunc executes one tool call and returns its JSON result.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    HandlerFunc
}

// ErrToolNotFound is returned when a call names a tool the registry
// does not hold.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolExists is returned when a registration reuses a tool name.
var ErrToolExists = errors.New("tool already registered")

// Registry is the set of tools exposed over MCP. It is populated during
// startup and read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names fail loudly.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Definition.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("nil handler for tool %q", t.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	r.order = append(r.order, t.Definition.Name)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Call runs the named tool with the given input.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return t.Handler(ctx, input)
}
