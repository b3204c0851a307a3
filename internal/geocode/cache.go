package geocode

import (
	"sync"
	"time"

	"github.com/example/request-marketplace/internal/models"
)

// CachedClient wraps a Client with a small TTL cache keyed by the raw
// address string. Clients frequently resubmit the same pickup address when
// retrying an expired request, so a short TTL saves most repeat lookups.
type CachedClient struct {
	inner Client
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	v  models.Coord
	ts time.Time
}

func NewCachedClient(inner Client, ttl time.Duration) *CachedClient {
	return &CachedClient{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *CachedClient) Resolve(address string) (models.Coord, error) {
	c.mu.RLock()
	e, ok := c.store[address]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.v, nil
	}
	if ok {
		c.mu.Lock()
		delete(c.store, address)
		c.mu.Unlock()
	}
	v, err := c.inner.Resolve(address)
	if err != nil {
		return models.Coord{}, err
	}
	c.mu.Lock()
	c.store[address] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
	return v, nil
}
