package delivery

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/subscription"
)

// Store is the persistence interface the delivery engine needs.
//
// Claim and Finalize carry the crash-safety contract: Claim durably commits
// the attempt increment before any outbound call, and Finalize appends the
// attempt ledger row before settling the delivery row, so the ledger never
// under-counts and a crash between the two is reconciled by ListStuck.
type Store interface {
	// Enqueue persists a new pending delivery.
	Enqueue(ctx context.Context, d *Delivery) error

	// Claim atomically takes up to limit due deliveries (pending, or
	// pending_retry past NextRetryAt): each claimed delivery moves to
	// in_progress with AttemptCount incremented, LastAttemptAt stamped and
	// NextRetryAt cleared. A delivery is claimed by at most one caller.
	Claim(ctx context.Context, limit int) ([]*Delivery, error)

	// Finalize records the attempt ledger row for att, then settles the
	// delivery into the state carried by d. The delivery row is only updated
	// while still in_progress. A nil att settles the delivery without adding
	// a ledger row (recovery path: the row already exists).
	Finalize(ctx context.Context, d *Delivery, att *Attempt) error

	// GetDelivery returns a delivery by ID. Returns ErrNotFound if missing.
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)

	// ListDeliveries returns deliveries matching opts, newest first.
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)

	// ListBySubscription returns deliveries for one subscription, newest first.
	ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListAttempts returns the attempt ledger for a delivery, ordered by
	// attempt number.
	ListAttempts(ctx context.Context, dlvID id.ID) ([]*Attempt, error)

	// CountAttempts returns the number of ledger rows for a delivery.
	CountAttempts(ctx context.Context, dlvID id.ID) (int, error)

	// ListStuck returns deliveries that have sat in_progress since before
	// cutoff, i.e. whose worker likely crashed mid-attempt.
	ListStuck(ctx context.Context, cutoff time.Time) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting completion
	// (pending, in_progress or pending_retry).
	CountPending(ctx context.Context) (int, error)

	// PurgeAttempts deletes attempt ledger rows of terminal deliveries whose
	// CompletedAt is before cutoff. Returns the number of rows removed.
	PurgeAttempts(ctx context.Context, cutoff time.Time) (int, error)
}

// SubscriptionResolver resolves the subscription a delivery belongs to.
// Implemented by subscription.Resolver.
type SubscriptionResolver interface {
	Resolve(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}
