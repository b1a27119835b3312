package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/promptlane/agentloop"
	"github.com/promptlane/agentloop/provider/openai"
	"github.com/promptlane/agentloop/server"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", ":8080", "listen address")
	model := flag.String("model", envOr("LOOP_MODEL", "gpt-4o-mini"), "model name")
	maxSteps := flag.Int("max-steps", 10, "step budget per turn")
	projectsPath := flag.String("projects", os.Getenv("LOOP_PROJECTS_FILE"), "JSON file of per-project tool server configs")
	pipeline := flag.String("pipeline", os.Getenv("LOOP_PIPELINE"), "comma-separated tool names to force in order")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*addr, *model, *maxSteps, *projectsPath, *pipeline, logger); err != nil {
		logger.Error("loopd exited", "error", err)
		os.Exit(1)
	}
}

func run(addr, model string, maxSteps int, projectsPath, pipeline string, logger *slog.Logger) error {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	prov, err := openai.New(openai.Config{
		APIKey:  apiKey,
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
	})
	if err != nil {
		return err
	}

	registry := agentloop.NewRegistry()
	if err := registerBaseTools(registry); err != nil {
		return err
	}

	var planner agentloop.Planner = agentloop.AutoPlanner()
	if pipeline != "" {
		planner = agentloop.SequencePlanner{Sequence: strings.Split(pipeline, ",")}
	}

	engine, err := agentloop.NewEngine(agentloop.EngineConfig{
		Provider: prov,
		Model:    model,
		SystemPrompt: "You are an assistant that builds AI agents for the user. " +
			"Use the available tools to inspect and act; ask for confirmation via the confirmation tools when required.",
		Registry: registry,
		Planner:  planner,
		MaxSteps: maxSteps,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var projects server.ProjectStore
	if projectsPath != "" {
		store, err := server.LoadProjectStore(projectsPath)
		if err != nil {
			return err
		}
		projects = store
	}

	srv := server.New(server.Config{
		Engine:   engine,
		Projects: projects,
		Logger:   logger,
	})

	logger.Info("loopd listening", "addr", addr, "model", model, "maxSteps", maxSteps)
	return http.ListenAndServe(addr, srv)
}

// registerBaseTools installs the built-in demo tools: weather resolves on
// the server, add has no executor and pauses the loop for a human
// confirmation.
func registerBaseTools(registry *agentloop.Registry) error {
	weather := agentloop.ToolDefinition{
		Name:        "weather",
		Description: "Get the current weather for a city.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"],
			"additionalProperties": false
		}`),
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in struct {
				City string `json:"city"`
			}
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			conditions := []string{"sunny", "cloudy", "rainy", "windy"}
			return map[string]string{
				"city":      in.City,
				"condition": conditions[len(in.City)%len(conditions)],
			}, nil
		},
	}

	add := agentloop.ToolDefinition{
		Name:        "add",
		Description: "Add two numbers. Requires the user to confirm the result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"a": {"type": "number"}, "b": {"type": "number"}},
			"required": ["a", "b"],
			"additionalProperties": false
		}`),
		// No executor: the loop pauses until the user supplies the result.
	}

	for _, def := range []agentloop.ToolDefinition{weather, add} {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
