package schema

import (
	"context"
	"sync"

	"github.com/dd0wney/cluso-dbcluster/pkg/backend"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// Cache returns member metadata.
type Cache interface {
	Properties(ctx context.Context, m *member.Member, q backend.Querier) (*Properties, error)
}

// LazyCache loads metadata the first time a member is asked for and reloads
// it after the member has been marked dirty.
type LazyCache struct {
	loader Loader
	logger logging.Logger

	mu      sync.Mutex
	entries map[string]*Properties
}

// NewLazyCache wraps a loader.
func NewLazyCache(loader Loader, logger logging.Logger) *LazyCache {
	return &LazyCache{
		loader:  loader,
		logger:  logging.OrNop(logger).With(logging.Component("schema")),
		entries: make(map[string]*Properties),
	}
}

// Properties implements Cache.
func (c *LazyCache) Properties(ctx context.Context, m *member.Member, q backend.Querier) (*Properties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := m.Clean()
	if p, ok := c.entries[m.ID]; ok && !dirty {
		return p, nil
	}

	p, err := c.loader.Load(ctx, q)
	if err != nil {
		return nil, err
	}
	c.entries[m.ID] = p
	c.logger.Debug("loaded metadata",
		logging.MemberID(m.ID),
		logging.Int("tables", len(p.Tables)),
		logging.Int("sequences", len(p.Sequences)))
	return p, nil
}

// Invalidate drops a member's cached metadata.
func (c *LazyCache) Invalidate(memberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, memberID)
}
