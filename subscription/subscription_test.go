package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/subscription"
)

// stubStore is a minimal in-memory Store for exercising the service and
// resolver without a database.
type stubStore struct {
	mu   sync.Mutex
	subs map[string]*subscription.Subscription
	gets int
}

func newStubStore() *stubStore {
	return &stubStore{subs: make(map[string]*subscription.Subscription)}
}

func (s *stubStore) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *stubStore) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	sub, ok := s.subs[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *stubStore) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	s.subs[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *stubStore) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[subID.String()]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subs, subID.String())
	return nil
}

func (s *stubStore) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		out = append(out, sub.Clone())
	}
	return out, nil
}

func TestAcceptsEventTypeFilter(t *testing.T) {
	sub := &subscription.Subscription{EventTypes: []string{"invoice.paid", "invoice.voided"}}

	if !sub.Accepts("invoice.paid") {
		t.Error("expected listed event type to be accepted")
	}
	if sub.Accepts("customer.created") {
		t.Error("expected unlisted event type to be rejected")
	}

	all := &subscription.Subscription{}
	if !all.Accepts("anything.at.all") {
		t.Error("expected empty filter to accept every event type")
	}
}

func TestCreateHashesSecret(t *testing.T) {
	svc := subscription.NewService(newStubStore(), nil, time.Hour, nil)

	sub, key, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/hooks",
		Secret:    "whsec_plaintext",
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.SecretRecord == "whsec_plaintext" {
		t.Error("secret stored in plaintext")
	}
	if key == "" {
		t.Fatal("expected a derived signing key")
	}

	// The issued key must produce signatures the stored record verifies.
	payload := []byte(`{"event":"test"}`)
	sig, err := signature.Sign(payload, key)
	if err != nil {
		t.Fatal(err)
	}
	if !signature.Verify(payload, sub.SecretRecord, sig) {
		t.Error("signature from issued key did not verify against stored record")
	}
}

func TestCreateGeneratesSecretWhenEmpty(t *testing.T) {
	svc := subscription.NewService(newStubStore(), nil, time.Hour, nil)

	sub, key, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/hooks",
	})
	if err != nil {
		t.Fatal(err)
	}
	if key == "" {
		t.Error("expected a signing key for the generated secret")
	}
	if !sub.RequiresSignature() {
		t.Error("expected generated secret to require signatures")
	}
}

func TestCreateRejectsInvalidURL(t *testing.T) {
	svc := subscription.NewService(newStubStore(), nil, time.Hour, nil)

	for _, target := range []string{"", "not-a-url", "ftp://example.com/x"} {
		_, _, err := svc.Create(context.Background(), subscription.Input{TargetURL: target})
		var verr *subscription.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Create(%q): expected ValidationError, got %v", target, err)
		}
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	store := newStubStore()
	cache := subscription.NewMemoryCache()
	svc := subscription.NewService(store, cache, time.Hour, nil)
	resolver := subscription.NewResolver(store, cache, time.Hour, nil)

	sub, _, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/old",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Warm the cache.
	if _, err := resolver.Resolve(context.Background(), sub.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Update(context.Background(), sub.ID, subscription.Input{
		TargetURL: "https://example.com/new",
	}); err != nil {
		t.Fatal(err)
	}

	got, err := resolver.Resolve(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TargetURL != "https://example.com/new" {
		t.Errorf("resolved stale target %q after update", got.TargetURL)
	}
}

func TestRotateSecretInvalidatesOldKey(t *testing.T) {
	store := newStubStore()
	svc := subscription.NewService(store, nil, time.Hour, nil)

	sub, oldKey, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/hooks",
	})
	if err != nil {
		t.Fatal(err)
	}

	newKey, err := svc.RotateSecret(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newKey == oldKey {
		t.Fatal("rotation returned the same signing key")
	}

	rotated, err := svc.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"n":1}`)
	oldSig, _ := signature.Sign(payload, oldKey)
	if signature.Verify(payload, rotated.SecretRecord, oldSig) {
		t.Error("old signing key still verifies after rotation")
	}
	newSig, _ := signature.Sign(payload, newKey)
	if !signature.Verify(payload, rotated.SecretRecord, newSig) {
		t.Error("new signing key does not verify after rotation")
	}
}

func TestResolveInactiveNotFound(t *testing.T) {
	store := newStubStore()
	svc := subscription.NewService(store, nil, time.Hour, nil)
	resolver := subscription.NewResolver(store, nil, time.Hour, nil)

	inactive := false
	sub, _, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/hooks",
		Active:    &inactive,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := resolver.Resolve(context.Background(), sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("expected ErrNotFound for inactive subscription, got %v", err)
	}
}

func TestResolveMissingNotFound(t *testing.T) {
	resolver := subscription.NewResolver(newStubStore(), nil, time.Hour, nil)

	if _, err := resolver.Resolve(context.Background(), id.NewSubscriptionID()); !errors.Is(err, subscription.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveReadsThroughCache(t *testing.T) {
	store := newStubStore()
	cache := subscription.NewMemoryCache()
	svc := subscription.NewService(store, nil, time.Hour, nil)
	resolver := subscription.NewResolver(store, cache, time.Hour, nil)

	sub, _, err := svc.Create(context.Background(), subscription.Input{
		TargetURL: "https://example.com/hooks",
	})
	if err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.gets = 0
	store.mu.Unlock()

	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}

	store.mu.Lock()
	gets := store.gets
	store.mu.Unlock()
	if gets != 1 {
		t.Errorf("expected a single store read, got %d", gets)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := subscription.NewMemoryCache()
	sub := &subscription.Subscription{ID: id.NewSubscriptionID(), TargetURL: "https://example.com"}

	if err := cache.Set(context.Background(), sub, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := cache.Get(context.Background(), sub.ID); !found {
		t.Fatal("expected fresh entry to be found")
	}

	time.Sleep(20 * time.Millisecond)
	if _, found, _ := cache.Get(context.Background(), sub.ID); found {
		t.Error("expected expired entry to be a miss")
	}
}
