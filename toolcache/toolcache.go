// Package toolcache caches the tool set derived from a project's remote
// tool-server configuration. Population is at-most-once per project key:
// concurrent first requests for the same key share a single load.
package toolcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/promptlane/agentloop"
)

// Loader derives a project's tool registry from its configuration.
type Loader func(ctx context.Context, projectID string) (*agentloop.Registry, error)

type Cache struct {
	load  Loader
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*agentloop.Registry
}

func New(load Loader) *Cache {
	return &Cache{
		load:    load,
		entries: map[string]*agentloop.Registry{},
	}
}

// Get returns the cached registry for the project, loading it on first use.
// A failed load is not cached; the next Get retries.
func (c *Cache) Get(ctx context.Context, projectID string) (*agentloop.Registry, error) {
	c.mu.RLock()
	reg, ok := c.entries[projectID]
	c.mu.RUnlock()
	if ok {
		return reg, nil
	}

	v, err, _ := c.group.Do(projectID, func() (any, error) {
		c.mu.RLock()
		reg, ok := c.entries[projectID]
		c.mu.RUnlock()
		if ok {
			return reg, nil
		}
		reg, err := c.load(ctx, projectID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[projectID] = reg
		c.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*agentloop.Registry), nil
}

// Forget drops the cached entry so the next Get reloads it.
func (c *Cache) Forget(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
	c.group.Forget(projectID)
}
