package configregistry

import (
	"context"
	"sync"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// cachedRegistry memoizes active-config reads, which the resolver issues on
// every page refresh. Writes invalidate: ActivateVersion is the only
// operation that changes what ActiveConfig returns.
type cachedRegistry struct {
	base Registry

	mu     sync.Mutex
	active map[string]pipeline.Config
}

func newCachedRegistry(base Registry) Registry {
	if base == nil {
		return nil
	}
	return &cachedRegistry{
		base:   base,
		active: make(map[string]pipeline.Config),
	}
}

func (c *cachedRegistry) CreateVersion(ctx context.Context, req CreateRequest) (pipeline.Version, error) {
	return c.base.CreateVersion(ctx, req)
}

func (c *cachedRegistry) ActivateVersion(ctx context.Context, name string, version int) error {
	if err := c.base.ActivateVersion(ctx, name, version); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.active, name)
	c.mu.Unlock()
	return nil
}

func (c *cachedRegistry) GetVersion(ctx context.Context, name string, version int) (pipeline.Version, error) {
	return c.base.GetVersion(ctx, name, version)
}

func (c *cachedRegistry) ActiveVersion(ctx context.Context, name string) (pipeline.Version, error) {
	return c.base.ActiveVersion(ctx, name)
}

func (c *cachedRegistry) ActiveConfig(ctx context.Context, name string) (pipeline.Config, error) {
	c.mu.Lock()
	if cached, ok := c.active[name]; ok {
		c.mu.Unlock()
		return cached.Clone(), nil
	}
	c.mu.Unlock()

	config, err := c.base.ActiveConfig(ctx, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.active[name] = config.Clone()
	c.mu.Unlock()
	return config, nil
}

func (c *cachedRegistry) ListVersions(ctx context.Context, name string) ([]pipeline.Version, error) {
	return c.base.ListVersions(ctx, name)
}

func (c *cachedRegistry) Close() error {
	return c.base.Close()
}
