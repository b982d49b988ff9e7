package memory

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/subscription"
)

func newPending(t *testing.T, subID id.ID) *delivery.Delivery {
	t.Helper()
	return &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: subID,
		EventType:      "invoice.paid",
		Payload:        []byte(`{"n":1}`),
		State:          delivery.StatePending,
		MaxAttempts:    3,
	}
}

func TestClaimCommitsAttemptIncrement(t *testing.T) {
	s := New()
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	d := newPending(t, subID)
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed delivery, got %d", len(claimed))
	}

	c := claimed[0]
	if c.State != delivery.StateInProgress {
		t.Errorf("claimed state = %q, want in_progress", c.State)
	}
	if c.AttemptCount != 1 {
		t.Errorf("claimed AttemptCount = %d, want 1", c.AttemptCount)
	}
	if c.LastAttemptAt == nil {
		t.Error("claimed LastAttemptAt not stamped")
	}

	// The increment is durable: a fresh read sees it even before finalize.
	stored, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AttemptCount != 1 || stored.State != delivery.StateInProgress {
		t.Errorf("stored delivery = (%q, %d), want (in_progress, 1)", stored.State, stored.AttemptCount)
	}
}

func TestClaimSkipsInProgress(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := newPending(t, id.NewSubscriptionID())
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Claim(ctx, 10); err != nil {
		t.Fatal(err)
	}

	again, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d deliveries, want 0", len(again))
	}
}

func TestClaimHonorsRetrySchedule(t *testing.T) {
	s := New()
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	notDue := newPending(t, id.NewSubscriptionID())
	notDue.State = delivery.StatePendingRetry
	notDue.NextRetryAt = &future
	notDue.AttemptCount = 1
	if err := s.Enqueue(ctx, notDue); err != nil {
		t.Fatal(err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	dueNow := newPending(t, id.NewSubscriptionID())
	dueNow.State = delivery.StatePendingRetry
	dueNow.NextRetryAt = &past
	dueNow.AttemptCount = 1
	if err := s.Enqueue(ctx, dueNow); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 due delivery, got %d", len(claimed))
	}
	if claimed[0].ID.String() != dueNow.ID.String() {
		t.Error("claimed the delivery that was not yet due")
	}
	if claimed[0].AttemptCount != 2 {
		t.Errorf("retry claim AttemptCount = %d, want 2", claimed[0].AttemptCount)
	}
	if claimed[0].NextRetryAt != nil {
		t.Error("claim did not clear NextRetryAt")
	}
}

func TestClaimLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(ctx, newPending(t, id.NewSubscriptionID())); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.Claim(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed, got %d", len(claimed))
	}
}

func TestFinalizeAppendsLedgerAndSettles(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := newPending(t, id.NewSubscriptionID())
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}
	claimed, _ := s.Claim(ctx, 1)
	c := claimed[0]

	now := time.Now().UTC()
	c.State = delivery.StateCompleted
	c.CompletedAt = &now
	att := &delivery.Attempt{
		ID:          id.NewAttemptID(),
		DeliveryID:  c.ID,
		Number:      c.AttemptCount,
		StatusCode:  200,
		Outcome:     delivery.OutcomeSuccess,
		AttemptedAt: now,
	}
	if err := s.Finalize(ctx, c, att); err != nil {
		t.Fatal(err)
	}

	stored, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != delivery.StateCompleted {
		t.Errorf("state = %q, want completed", stored.State)
	}

	attempts, err := s.ListAttempts(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(attempts))
	}
	if attempts[0].Number != stored.AttemptCount {
		t.Errorf("ledger row number %d != attempt count %d", attempts[0].Number, stored.AttemptCount)
	}
}

func TestFinalizeNilAttemptAddsNoRow(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := newPending(t, id.NewSubscriptionID())
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}
	claimed, _ := s.Claim(ctx, 1)
	c := claimed[0]

	next := time.Now().UTC().Add(10 * time.Second)
	c.State = delivery.StatePendingRetry
	c.NextRetryAt = &next
	if err := s.Finalize(ctx, c, nil); err != nil {
		t.Fatal(err)
	}

	count, err := s.CountAttempts(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 ledger rows, got %d", count)
	}

	stored, _ := s.GetDelivery(ctx, d.ID)
	if stored.State != delivery.StatePendingRetry {
		t.Errorf("state = %q, want pending_retry", stored.State)
	}
}

func TestListStuck(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := newPending(t, id.NewSubscriptionID())
	if err := s.Enqueue(ctx, d); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx, 1); err != nil {
		t.Fatal(err)
	}

	// Claimed just now: not yet stuck against a past cutoff.
	stuck, err := s.ListStuck(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 0 {
		t.Fatalf("expected 0 stuck deliveries, got %d", len(stuck))
	}

	// Against a future cutoff the claim counts as stuck.
	stuck, err = s.ListStuck(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck delivery, got %d", len(stuck))
	}
}

func TestCountPending(t *testing.T) {
	s := New()
	ctx := context.Background()

	d1 := newPending(t, id.NewSubscriptionID())
	d2 := newPending(t, id.NewSubscriptionID())
	now := time.Now().UTC()
	d2.State = delivery.StateCompleted
	d2.CompletedAt = &now

	if err := s.Enqueue(ctx, d1); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, d2); err != nil {
		t.Fatal(err)
	}

	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("CountPending = %d, want 1", count)
	}
}

func TestPurgeAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := newPending(t, id.NewSubscriptionID())
	completedAt := time.Now().UTC().Add(-100 * time.Hour)
	old.State = delivery.StateFailed
	old.AttemptCount = 3
	old.CompletedAt = &completedAt
	if err := s.Enqueue(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(ctx, old, &delivery.Attempt{
		ID: id.NewAttemptID(), DeliveryID: old.ID, Number: 3,
		Outcome: delivery.OutcomeFailedAttempt, AttemptedAt: completedAt,
	}); err != nil {
		t.Fatal(err)
	}

	active := newPending(t, id.NewSubscriptionID())
	if err := s.Enqueue(ctx, active); err != nil {
		t.Fatal(err)
	}
	claimed, _ := s.Claim(ctx, 1)
	for _, c := range claimed {
		if c.ID.String() == active.ID.String() {
			next := time.Now().UTC().Add(10 * time.Second)
			c.State = delivery.StatePendingRetry
			c.NextRetryAt = &next
			if err := s.Finalize(ctx, c, &delivery.Attempt{
				ID: id.NewAttemptID(), DeliveryID: c.ID, Number: 1,
				Outcome: delivery.OutcomeFailedAttempt, AttemptedAt: time.Now().UTC(),
			}); err != nil {
				t.Fatal(err)
			}
		}
	}

	purged, err := s.PurgeAttempts(ctx, time.Now().UTC().Add(-72*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged %d rows, want 1", purged)
	}

	// Non-terminal delivery keeps its ledger.
	count, _ := s.CountAttempts(ctx, active.ID)
	if count != 1 {
		t.Errorf("active delivery ledger rows = %d, want 1", count)
	}
}

func TestListBySubscription(t *testing.T) {
	s := New()
	ctx := context.Background()

	subA := id.NewSubscriptionID()
	subB := id.NewSubscriptionID()
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(ctx, newPending(t, subA)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Enqueue(ctx, newPending(t, subB)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListBySubscription(ctx, subA, delivery.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 deliveries for subscription, got %d", len(got))
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:    entity.New(),
		ID:        id.NewSubscriptionID(),
		TargetURL: "https://example.com/hooks",
		Active:    true,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TargetURL != sub.TargetURL {
		t.Errorf("TargetURL = %q, want %q", got.TargetURL, sub.TargetURL)
	}

	got.TargetURL = "https://example.com/other"
	if err := s.UpdateSubscription(ctx, got); err != nil {
		t.Fatal(err)
	}

	updated, _ := s.GetSubscription(ctx, sub.ID)
	if updated.TargetURL != "https://example.com/other" {
		t.Errorf("update not persisted, got %q", updated.TargetURL)
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSubscription(ctx, sub.ID); err != subscription.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
