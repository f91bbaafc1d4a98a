package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/evergreenhq/journeys/pkg/definition"
	"github.com/evergreenhq/journeys/pkg/persistence"
)

// graphCache compiles and caches flow graphs per (journey, version).
// Published definitions are immutable, so cached graphs never go stale.
type graphCache struct {
	persistence persistence.Persistence
	mu          sync.RWMutex
	graphs      map[string]*definition.Graph
}

func newGraphCache(p persistence.Persistence) *graphCache {
	return &graphCache{
		persistence: p,
		graphs:      make(map[string]*definition.Graph),
	}
}

func (c *graphCache) Get(ctx context.Context, journeyID string, version int) (*definition.Graph, error) {
	key := fmt.Sprintf("%s@v%d", journeyID, version)

	c.mu.RLock()
	graph, ok := c.graphs[key]
	c.mu.RUnlock()

	if ok {
		return graph, nil
	}

	def, err := c.persistence.JourneyDefinition(ctx, journeyID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition for %s: %w", key, err)
	}

	graph, err = definition.Compile(journeyID, version, def)
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition for %s: %w", key, err)
	}

	c.mu.Lock()
	c.graphs[key] = graph
	c.mu.Unlock()

	return graph, nil
}
