package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/signature"
)

// Service implements subscription lifecycle management on top of a Store,
// keeping the cache consistent on every mutation.
type Service struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService creates a subscription service. cache may be nil.
func NewService(store Store, cache Cache, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Create registers a new subscription and returns it together with the
// derived signing key. The key is shown exactly once; only the salted hash of
// the secret is persisted. When in.Secret is empty a secret is generated,
// unless in.Unsigned is set: then no secret is stored and the returned key
// is empty.
func (s *Service) Create(ctx context.Context, in Input) (*Subscription, string, error) {
	if err := in.Validate(); err != nil {
		return nil, "", err
	}

	var record, key string
	if !in.Unsigned {
		secret := in.Secret
		if secret == "" {
			secret = signature.GenerateSecret()
		}
		record = signature.HashSecret(secret)
		var err error
		key, err = signature.SigningKey(record)
		if err != nil {
			return nil, "", fmt.Errorf("derive signing key: %w", err)
		}
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	sub := &Subscription{
		Entity:        entity.New(),
		ID:            id.NewSubscriptionID(),
		TargetURL:     in.TargetURL,
		SecretRecord:  record,
		EventTypes:    in.EventTypes,
		PayloadSchema: in.PayloadSchema,
		RateLimit:     in.RateLimit,
		Active:        active,
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("create subscription: %w", err)
	}
	s.cacheSet(ctx, sub)

	s.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"target_url", sub.TargetURL,
		"event_types", len(sub.EventTypes),
	)
	return sub, key, nil
}

// Get returns a subscription by ID.
func (s *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, subID)
}

// List returns subscriptions matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return s.store.ListSubscriptions(ctx, opts)
}

// Update applies the non-zero fields of in to an existing subscription.
// The cache entry is invalidated synchronously before the fresh record is
// cached, so resolvers never serve the stale version.
func (s *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.TargetURL != "" {
		probe := Input{TargetURL: in.TargetURL}
		if err := probe.Validate(); err != nil {
			return nil, err
		}
		sub.TargetURL = in.TargetURL
	}
	if in.EventTypes != nil {
		sub.EventTypes = in.EventTypes
	}
	if in.PayloadSchema != nil {
		if err := (&Input{TargetURL: sub.TargetURL, PayloadSchema: in.PayloadSchema}).Validate(); err != nil {
			return nil, err
		}
		sub.PayloadSchema = in.PayloadSchema
	}
	if in.RateLimit > 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	s.cacheDelete(ctx, subID)
	s.cacheSet(ctx, sub)

	s.logger.Info("subscription updated", "subscription_id", subID)
	return sub, nil
}

// RotateSecret replaces the subscription secret and returns the new derived
// signing key. The previous key stops verifying immediately.
func (s *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	record := signature.HashSecret(signature.GenerateSecret())
	key, err := signature.SigningKey(record)
	if err != nil {
		return "", fmt.Errorf("derive signing key: %w", err)
	}
	sub.SecretRecord = record
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("rotate secret: %w", err)
	}
	s.cacheDelete(ctx, subID)
	s.cacheSet(ctx, sub)

	s.logger.Info("subscription secret rotated", "subscription_id", subID)
	return key, nil
}

// Delete removes a subscription and evicts it from the cache.
func (s *Service) Delete(ctx context.Context, subID id.ID) error {
	if err := s.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}
	s.cacheDelete(ctx, subID)
	s.logger.Info("subscription deleted", "subscription_id", subID)
	return nil
}

func (s *Service) cacheSet(ctx context.Context, sub *Subscription) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sub, s.cacheTTL); err != nil {
		s.logger.Warn("subscription cache set failed", "subscription_id", sub.ID, "error", err)
	}
}

func (s *Service) cacheDelete(ctx context.Context, subID id.ID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, subID); err != nil {
		s.logger.Warn("subscription cache invalidation failed", "subscription_id", subID, "error", err)
	}
}
