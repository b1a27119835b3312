package agentloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptlane/agentloop/provider"
)

// EngineConfig wires an Engine. Provider and Model are required; the rest
// default sensibly.
type EngineConfig struct {
	Provider provider.Provider
	Model    string

	// SystemPrompt, when set, is prepended to every model call.
	SystemPrompt string

	// Registry is the default tool set. Per-run registries can be supplied
	// via RunWithRegistry.
	Registry *Registry

	// Planner decides the per-step tool-choice constraint. Defaults to
	// AutoPlanner.
	Planner Planner

	// MaxSteps bounds the number of model invocations per turn, cumulative
	// across pause/resume. Defaults to 5.
	MaxSteps int

	Logger *slog.Logger
}

// Engine drives a bounded sequence of model steps over a conversation,
// executing tools that have executors and pausing on tools that require a
// human-supplied result. Engines are stateless across runs; all per-turn
// state lives in the Run.
type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Planner == nil {
		cfg.Planner = AutoPlanner()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}, nil
}

// Registry returns the engine's default tool set.
func (e *Engine) Registry() *Registry { return e.cfg.Registry }

// Run starts a turn over the submitted message history. The returned Run is
// a pull iterator over stream events; it is not safe for concurrent use.
func (e *Engine) Run(ctx context.Context, messages []Message) *Run {
	return e.RunWithRegistry(ctx, messages, e.cfg.Registry)
}

// RunWithRegistry is Run with a request-scoped tool set (e.g. the shared
// base tools layered with a project's remote tools).
func (e *Engine) RunWithRegistry(ctx context.Context, messages []Message, registry *Registry) *Run {
	if registry == nil {
		registry = e.cfg.Registry
	}
	return &Run{
		ctx:      ctx,
		engine:   e,
		registry: registry,
		logger:   e.cfg.Logger.With("component", "engine"),
		input:    append([]Message(nil), messages...),
		pending:  map[string]ToolCall{},
		status:   StatusRunning,
	}
}
