package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/promptlane/agentloop/internal/schema"
)

// ToolExecutor resolves a tool call's output from its validated input.
type ToolExecutor func(ctx context.Context, input json.RawMessage) (any, error)

// ToolDefinition declares a callable tool. A nil Execute marks the tool as
// requiring human confirmation: the loop pauses on a call to it until a
// matching tool-result message is supplied.
type ToolDefinition struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Execute      ToolExecutor
}

// Registry is a lookup table of tool definitions. Pure lookup and
// validation; no side effects beyond the table itself.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]ToolDefinition{}}
}

func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return &DuplicateToolError{ToolName: def.Name}
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) Get(name string) (ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, &UnknownToolError{ToolName: name}
	}
	return def, nil
}

// HasExecutor reports whether the tool can resolve its own output without
// human input. Unknown tools have no executor.
func (r *Registry) HasExecutor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return ok && def.Execute != nil
}

func (r *Registry) ValidateInput(name string, candidate json.RawMessage) error {
	def, err := r.Get(name)
	if err != nil {
		return err
	}
	if len(def.InputSchema) == 0 {
		return nil
	}
	if err := schema.Validate(def.InputSchema, candidate); err != nil {
		return &SchemaValidationError{ToolName: name, Cause: err}
	}
	return nil
}

// Definitions returns all tools in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Clone returns an independent registry with the same tools. Used to layer
// per-project tools on top of a shared base set.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{
		tools: make(map[string]ToolDefinition, len(r.tools)),
		order: append([]string(nil), r.order...),
	}
	for name, def := range r.tools {
		out.tools[name] = def
	}
	return out
}
