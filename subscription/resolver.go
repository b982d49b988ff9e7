package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/id"
)

// Resolver resolves subscriptions for the hot ingest and delivery paths,
// reading through the cache. Cache failures degrade to store reads.
type Resolver struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver creates a resolver. cache may be nil, in which case every
// resolve hits the store.
func NewResolver(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the subscription for subID. Inactive subscriptions resolve
// as ErrNotFound, same as missing ones.
func (r *Resolver) Resolve(ctx context.Context, subID id.ID) (*Subscription, error) {
	if r.cache != nil {
		sub, found, err := r.cache.Get(ctx, subID)
		if err != nil {
			r.logger.Warn("subscription cache read failed", "subscription_id", subID, "error", err)
		} else if found {
			if !sub.Active {
				return nil, ErrNotFound
			}
			return sub, nil
		}
	}

	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, sub, r.ttl); err != nil {
			r.logger.Warn("subscription cache fill failed", "subscription_id", subID, "error", err)
		}
	}

	if !sub.Active {
		return nil, ErrNotFound
	}
	return sub, nil
}
