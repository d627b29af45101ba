// Package modelcache provides a TTL-bounded cache for backend.ModelLister
// results, falling back to a static catalog when a remote fetch fails or
// hasn't completed yet. No library in the reference corpus ships a
// readable, dependency-free TTL cache shaped for this single-key use
// case, so this is a small sync.RWMutex-guarded struct (see DESIGN.md).
package modelcache

import (
	"context"
	"sync"
	"time"

	"github.com/hnolan/irgateway/internal/backend"
)

// FetchFunc performs the actual remote model listing.
type FetchFunc func(ctx context.Context) ([]string, error)

// Cache wraps a FetchFunc with a TTL and a static fallback list, so a
// backend's ListModels stays cheap and resilient to transient failures.
type Cache struct {
	mu         sync.RWMutex
	fetch      FetchFunc
	ttl        time.Duration
	static     []string
	cached     []string
	fetchedAt  time.Time
	lastErr    error
	hasFetched bool
}

// New constructs a Cache. static is returned, tagged ModelSourceStatic,
// whenever no fresh remote value is available.
func New(fetch FetchFunc, ttl time.Duration, static []string) *Cache {
	return &Cache{fetch: fetch, ttl: ttl, static: static}
}

// Get returns the cached model list if still within ttl, otherwise calls
// fetch, updating the cache on success. On fetch failure it serves the
// previous cached value (if any) or the static fallback, never returning
// an error from a transient remote hiccup.
func (c *Cache) Get(ctx context.Context) backend.ModelList {
	c.mu.RLock()
	fresh := c.hasFetched && time.Since(c.fetchedAt) < c.ttl
	cached := c.cached
	fetchedAt := c.fetchedAt
	c.mu.RUnlock()

	if fresh {
		return backend.ModelList{Models: cached, Source: backend.ModelSourceRemote, FetchedAt: fetchedAt.UnixMilli(), IsComplete: true}
	}

	models, err := c.fetch(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		stale := c.cached
		staleAt := c.fetchedAt
		hadFetch := c.hasFetched
		c.mu.Unlock()

		if hadFetch {
			return backend.ModelList{Models: stale, Source: backend.ModelSourceRemote, FetchedAt: staleAt.UnixMilli(), IsComplete: false}
		}
		return backend.ModelList{Models: c.static, Source: backend.ModelSourceStatic, IsComplete: false}
	}

	now := time.Now()
	c.mu.Lock()
	c.cached = models
	c.fetchedAt = now
	c.hasFetched = true
	c.lastErr = nil
	c.mu.Unlock()

	return backend.ModelList{Models: models, Source: backend.ModelSourceRemote, FetchedAt: now.UnixMilli(), IsComplete: true}
}

// LastError returns the error from the most recent failed fetch, if any.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Invalidate forces the next Get to bypass the TTL and re-fetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasFetched = false
}
