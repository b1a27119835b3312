// Package server exposes the loop endpoints: a POST accepting a message
// log and answering with a server-sent event stream that ends when the
// turn reaches paused, finished or failed.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/promptlane/agentloop"
	"github.com/promptlane/agentloop/mcp"
	"github.com/promptlane/agentloop/toolcache"
)

type Config struct {
	Engine *agentloop.Engine

	// Projects resolves per-project tool server configs; nil disables the
	// project variant of the loop endpoint.
	Projects ProjectStore

	Logger *slog.Logger
}

type Server struct {
	engine   *agentloop.Engine
	projects ProjectStore
	tools    *toolcache.Cache
	logger   *slog.Logger
	mux      *http.ServeMux
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   cfg.Engine,
		projects: cfg.Projects,
		logger:   logger.With("component", "server"),
		mux:      http.NewServeMux(),
	}
	s.tools = toolcache.New(s.loadProjectTools)

	s.mux.HandleFunc("POST /api/loop", s.handleLoop)
	s.mux.HandleFunc("POST /api/loop/project", s.handleProjectLoop)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	start := time.Now()
	s.mux.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), reqID)))
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"requestId", reqID,
		"duration", time.Since(start),
	)
}

// loadProjectTools derives a project's registry from its configured tool
// servers. Called at most once per project id via the tool cache.
func (s *Server) loadProjectTools(ctx context.Context, projectID string) (*agentloop.Registry, error) {
	configs, err := s.projects.ToolServers(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Project tools layer on top of the shared base tool set.
	reg := s.engine.Registry().Clone()
	for _, cfg := range configs {
		client, err := mcp.NewClient(&mcp.HTTPTransport{
			URL:         cfg.URL,
			BearerToken: cfg.BearerToken,
		})
		if err != nil {
			return nil, err
		}
		tools, err := client.Tools(ctx, &mcp.ToolsOptions{Prefix: cfg.ToolPrefix})
		if err != nil {
			return nil, err
		}
		for _, def := range tools {
			if err := reg.Register(def); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
