// Package rediscache provides a Redis-backed subscription cache via Grove KV.
//
// Subscription reads on the ingest and delivery hot paths go through this
// cache; mutations invalidate synchronously and the TTL bounds staleness if
// an invalidation is ever lost.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/subscription"
)

const keyPrefix = "courier:sub:"

// compile-time interface check
var _ subscription.Cache = (*Cache)(nil)

// Cache implements subscription.Cache on Redis via Grove KV.
type Cache struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a Redis subscription cache backed by Grove KV.
func New(store *kv.Store) *Cache {
	return &Cache{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// cacheRecord is the wire form of a cached subscription. SecretRecord is
// carried explicitly: the subscription's own JSON encoding excludes it, but
// the delivery path needs it back on a cache hit.
type cacheRecord struct {
	Subscription *subscription.Subscription `json:"subscription"`
	SecretRecord string                     `json:"secret_record"`
}

func cacheKey(subID id.ID) string {
	return keyPrefix + subID.String()
}

// Get returns the cached subscription, or found=false on a miss.
func (c *Cache) Get(ctx context.Context, subID id.ID) (*subscription.Subscription, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(subID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("courier/rediscache: get: %w", err)
	}

	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// A corrupt entry is a miss; the resolver will refill it.
		return nil, false, nil
	}
	sub := rec.Subscription
	sub.SecretRecord = rec.SecretRecord
	return sub, true, nil
}

// Set caches a subscription for ttl.
func (c *Cache) Set(ctx context.Context, sub *subscription.Subscription, ttl time.Duration) error {
	raw, err := json.Marshal(cacheRecord{
		Subscription: sub,
		SecretRecord: sub.SecretRecord,
	})
	if err != nil {
		return fmt.Errorf("courier/rediscache: marshal subscription: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(sub.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("courier/rediscache: set: %w", err)
	}
	return nil
}

// Delete evicts a subscription from the cache.
func (c *Cache) Delete(ctx context.Context, subID id.ID) error {
	if err := c.rdb.Del(ctx, cacheKey(subID)).Err(); err != nil {
		return fmt.Errorf("courier/rediscache: delete: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.kv.Ping(ctx)
}

// Close closes the KV store.
func (c *Cache) Close() error {
	return c.kv.Close()
}
