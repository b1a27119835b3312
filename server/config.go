package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ToolServerConfig describes one remote MCP tool server attached to a
// project.
type ToolServerConfig struct {
	URL         string `json:"url"`
	BearerToken string `json:"bearerToken,omitempty"`
	ToolPrefix  string `json:"toolPrefix,omitempty"`
}

// ProjectStore reads the tool connection configs for a project.
type ProjectStore interface {
	ToolServers(ctx context.Context, projectID string) ([]ToolServerConfig, error)
}

// InMemoryProjectStore is a ProjectStore backed by a map, loadable from a
// JSON file of the shape {"<projectId>": [{"url": ...}, ...]}.
type InMemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[string][]ToolServerConfig
}

func NewInMemoryProjectStore() *InMemoryProjectStore {
	return &InMemoryProjectStore{projects: map[string][]ToolServerConfig{}}
}

func LoadProjectStore(path string) (*InMemoryProjectStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project config: %w", err)
	}
	var projects map[string][]ToolServerConfig
	if err := json.Unmarshal(b, &projects); err != nil {
		return nil, fmt.Errorf("parse project config: %w", err)
	}
	return &InMemoryProjectStore{projects: projects}, nil
}

func (s *InMemoryProjectStore) Put(projectID string, configs []ToolServerConfig) {
	s.mu.Lock()
	s.projects[projectID] = append([]ToolServerConfig(nil), configs...)
	s.mu.Unlock()
}

func (s *InMemoryProjectStore) ToolServers(ctx context.Context, projectID string) ([]ToolServerConfig, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", projectID)
	}
	return append([]ToolServerConfig(nil), configs...), nil
}
