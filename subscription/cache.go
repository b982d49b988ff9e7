package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/courier/id"
)

// Cache is a read-through cache for subscription records. Implementations are
// advisory: a cache error is treated as a miss, never as a resolution failure.
type Cache interface {
	// Get returns the cached subscription, or found=false on a miss.
	Get(ctx context.Context, subID id.ID) (sub *Subscription, found bool, err error)

	// Set caches a subscription for ttl.
	Set(ctx context.Context, sub *Subscription, ttl time.Duration) error

	// Delete evicts a subscription from the cache.
	Delete(ctx context.Context, subID id.ID) error
}

type memoryCacheEntry struct {
	sub       *Subscription
	expiresAt time.Time
}

// MemoryCache is an in-process Cache backed by a map with per-entry TTLs.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, subID id.ID) (*Subscription, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[subID.String()]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, subID.String())
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.sub.Clone(), true, nil
}

func (c *MemoryCache) Set(_ context.Context, sub *Subscription, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sub.ID.String()] = memoryCacheEntry{
		sub:       sub.Clone(),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, subID id.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subID.String())
	return nil
}
