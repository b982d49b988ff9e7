package subscription

import (
	"context"

	"github.com/xraph/courier/id"
)

// Store persists subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID. Returns ErrNotFound if it
	// does not exist.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription persists changes to an existing subscription.
	// Returns ErrNotFound if it does not exist.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription. Returns ErrNotFound if it
	// does not exist.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions matching opts, newest first.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
}
