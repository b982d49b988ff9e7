// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/subscription"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check.
var _ courierstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	subscriptions map[string]*subscription.Subscription // keyed by ID string
	deliveries    map[string]*delivery.Delivery         // keyed by ID string
	attempts      map[string][]*delivery.Attempt        // keyed by delivery ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		deliveries:    make(map[string]*delivery.Delivery),
		attempts:      make(map[string][]*delivery.Attempt),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub.Clone(), nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions, optionally filtered.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, sub.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// copyDelivery returns a copy of the delivery so callers can mutate without
// holding the lock.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		cp.NextRetryAt = &t
	}
	if d.LastAttemptAt != nil {
		t := *d.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// due reports whether the delivery is eligible for a claim at now.
func due(d *delivery.Delivery, now time.Time) bool {
	switch d.State {
	case delivery.StatePending:
		return true
	case delivery.StatePendingRetry:
		return d.NextRetryAt != nil && !d.NextRetryAt.After(now)
	default:
		return false
	}
}

// dueAt orders claims: pending by creation, pending_retry by schedule.
func dueAt(d *delivery.Delivery) time.Time {
	if d.State == delivery.StatePendingRetry && d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	return d.CreatedAt
}

// Enqueue creates a pending delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// Claim takes up to limit due deliveries, moving each to in_progress with the
// attempt increment committed before the caller sees it.
func (s *Store) Claim(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if due(d, now) {
			candidates = append(candidates, d)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return dueAt(candidates[i]).Before(dueAt(candidates[j]))
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.State = delivery.StateInProgress
		d.AttemptCount++
		ts := now
		d.LastAttemptAt = &ts
		d.NextRetryAt = nil
		d.UpdatedAt = now
		result = append(result, copyDelivery(d))
	}

	return result, nil
}

// Finalize appends the attempt ledger row, then settles the delivery row if
// it is still in_progress. A nil att settles without a new ledger row.
func (s *Store) Finalize(_ context.Context, d *delivery.Delivery, att *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deliveries[d.ID.String()]
	if !ok {
		return delivery.ErrNotFound
	}

	if att != nil {
		cp := *att
		s.attempts[d.ID.String()] = append(s.attempts[d.ID.String()], &cp)
	}

	if stored.State != delivery.StateInProgress {
		return nil
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, dlvID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListDeliveries returns deliveries, optionally filtered, newest first.
func (s *Store) ListDeliveries(_ context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if opts.State != nil && d.State != *opts.State {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.State != nil && d.State != *opts.State {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListAttempts returns the attempt ledger for a delivery, ordered by number.
func (s *Store) ListAttempts(_ context.Context, dlvID id.ID) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.attempts[dlvID.String()]
	result := make([]*delivery.Attempt, 0, len(rows))
	for _, a := range rows {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}

// CountAttempts returns the number of ledger rows for a delivery.
func (s *Store) CountAttempts(_ context.Context, dlvID id.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.attempts[dlvID.String()]), nil
}

// ListStuck returns deliveries in_progress since before cutoff.
func (s *Store) ListStuck(_ context.Context, cutoff time.Time) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.State != delivery.StateInProgress {
			continue
		}
		if d.LastAttemptAt == nil || d.LastAttemptAt.After(cutoff) {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting completion.
func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.deliveries {
		if !d.State.Terminal() {
			count++
		}
	}
	return count, nil
}

// PurgeAttempts deletes ledger rows of terminal deliveries completed before cutoff.
func (s *Store) PurgeAttempts(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for dlvID, rows := range s.attempts {
		d, ok := s.deliveries[dlvID]
		if !ok || !d.State.Terminal() {
			continue
		}
		if d.CompletedAt == nil || !d.CompletedAt.Before(cutoff) {
			continue
		}
		count += len(rows)
		delete(s.attempts, dlvID)
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
