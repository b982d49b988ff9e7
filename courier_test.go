package courier_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/subscription"
)

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...courier.Option) (*courier.Courier, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]courier.Option{
		courier.WithStore(s),
		courier.WithPollInterval(20 * time.Millisecond),
		courier.WithBackoffTable([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}),
		courier.WithRecoveryInterval(50 * time.Millisecond),
	}, opts...)
	c, err := courier.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c, s
}

func createSubscription(t *testing.T, c *courier.Courier, in subscription.Input) (*subscription.Subscription, string) {
	t.Helper()
	sub, key, err := c.Subscriptions().Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	return sub, key
}

// waitForState polls until the delivery reaches the wanted state or the
// deadline passes.
func waitForState(t *testing.T, c *courier.Courier, dlvID id.ID, want delivery.State) *delivery.Delivery {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			d, _, _ := c.Status(ctx(), dlvID)
			t.Fatalf("delivery never reached %s, last seen %+v", want, d)
			return nil
		default:
		}
		d, _, err := c.Status(ctx(), dlvID)
		if err == nil && d.State == want {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIngestAndDeliver(t *testing.T) {
	var received atomic.Int32
	var gotSig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		gotSig.Store(r.Header.Get("X-Hub-Signature-256"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := setup(t)
	sub, key := createSubscription(t, c, subscription.Input{
		TargetURL:  srv.URL,
		EventTypes: []string{"invoice.created"},
	})

	payload := []byte(`{"invoice_id":"inv_1","amount":100}`)
	sig, err := signature.Sign(payload, key)
	if err != nil {
		t.Fatal(err)
	}

	c.Start(ctx())
	defer c.Stop(ctx())

	d, err := c.Ingest(ctx(), sub.ID, "invoice.created", payload, sig)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != delivery.StatePending {
		t.Fatalf("expected pending after ingest, got %s", d.State)
	}

	final := waitForState(t, c, d.ID, delivery.StateCompleted)
	if final.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", final.AttemptCount)
	}
	if received.Load() != 1 {
		t.Fatalf("endpoint received %d requests, want 1", received.Load())
	}

	// The delivered body is the canonical payload, so the outbound signature
	// must verify against the stored secret record the same way the inbound
	// one did.
	if s, _ := gotSig.Load().(string); s == "" {
		t.Fatal("expected a signature header on the outbound delivery")
	}

	_, attempts, err := c.Status(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != delivery.OutcomeSuccess {
		t.Fatalf("expected one success ledger row, got %+v", attempts)
	}
}

func TestIngestUnknownSubscription(t *testing.T) {
	c, _ := setup(t)

	_, err := c.Ingest(ctx(), id.NewSubscriptionID(), "invoice.created", []byte(`{}`), "")
	if !errors.Is(err, courier.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestIngestInactiveSubscription(t *testing.T) {
	c, _ := setup(t)

	inactive := false
	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: "https://example.com/hooks",
		Unsigned:  true,
		Active:    &inactive,
	})

	_, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{}`), "")
	if !errors.Is(err, courier.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound for inactive subscription, got %v", err)
	}
}

func TestIngestMissingSignature(t *testing.T) {
	c, s := setup(t)

	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: "https://example.com/hooks",
	})

	_, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1}`), "")
	if !errors.Is(err, courier.ErrSignatureRequired) {
		t.Fatalf("expected ErrSignatureRequired, got %v", err)
	}

	pending, _ := s.CountPending(ctx())
	if pending != 0 {
		t.Fatalf("rejected ingest must not enqueue, got %d pending", pending)
	}
}

func TestIngestInvalidSignature(t *testing.T) {
	c, _ := setup(t)

	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: "https://example.com/hooks",
	})

	_, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1}`), "sha256=deadbeef")
	if !errors.Is(err, courier.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestIngestSignatureSurvivesKeyEquivalentPayloads(t *testing.T) {
	c, _ := setup(t)

	sub, key := createSubscription(t, c, subscription.Input{
		TargetURL: "https://example.com/hooks",
	})

	// Key order does not matter: both spellings canonicalize identically.
	sig, err := signature.Sign([]byte(`{"b":2,"a":1}`), key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1,"b":2}`), sig); err != nil {
		t.Fatalf("reordered payload should verify, got %v", err)
	}
}

func TestIngestNotSubscribed(t *testing.T) {
	c, s := setup(t)

	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL:  "https://example.com/hooks",
		Unsigned:   true,
		EventTypes: []string{"order.updated"},
	})

	d, err := c.Ingest(ctx(), sub.ID, "order.created", []byte(`{"a":1}`), "")
	if !errors.Is(err, courier.ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	if d != nil {
		t.Fatal("no delivery must be created for a filtered event")
	}

	pending, _ := s.CountPending(ctx())
	if pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestIngestFilterDecidesBeforeSignature(t *testing.T) {
	c, s := setup(t)

	// Secret configured AND a filter: a filtered-out event is accept-but-skip
	// even when unsigned or badly signed.
	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL:  "https://example.com/hooks",
		EventTypes: []string{"order.updated"},
	})

	_, err := c.Ingest(ctx(), sub.ID, "order.created", []byte(`{"a":1}`), "")
	if !errors.Is(err, courier.ErrNotSubscribed) {
		t.Fatalf("unsigned filtered event: expected ErrNotSubscribed, got %v", err)
	}

	_, err = c.Ingest(ctx(), sub.ID, "order.created", []byte(`{"a":1}`), "sha256=deadbeef")
	if !errors.Is(err, courier.ErrNotSubscribed) {
		t.Fatalf("badly signed filtered event: expected ErrNotSubscribed, got %v", err)
	}

	// A matching event still requires the signature.
	_, err = c.Ingest(ctx(), sub.ID, "order.updated", []byte(`{"a":1}`), "")
	if !errors.Is(err, courier.ErrSignatureRequired) {
		t.Fatalf("unsigned matching event: expected ErrSignatureRequired, got %v", err)
	}

	pending, _ := s.CountPending(ctx())
	if pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestIngestSchemaValidation(t *testing.T) {
	c, _ := setup(t)

	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: "https://example.com/hooks",
		Unsigned:  true,
		PayloadSchema: mustJSON(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
			},
			"required": []any{"amount"},
		}),
	})

	_, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"other":"value"}`), "")
	if !errors.Is(err, courier.ErrPayloadInvalid) {
		t.Fatalf("expected ErrPayloadInvalid, got %v", err)
	}

	if _, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"amount":42.5}`), ""); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestDeliveryRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := setup(t, courier.WithMaxAttempts(3))
	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: srv.URL,
		Unsigned:  true,
	})

	c.Start(ctx())
	defer c.Stop(ctx())

	d, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatal(err)
	}

	final := waitForState(t, c, d.ID, delivery.StateFailed)
	if final.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", final.AttemptCount)
	}
	if final.NextRetryAt != nil {
		t.Fatal("failed delivery must have no retry scheduled")
	}

	_, attempts, _ := c.Status(ctx(), d.ID)
	if len(attempts) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != delivery.OutcomeFailedAttempt {
			t.Fatalf("expected all failed attempts, got %+v", a)
		}
	}
}

func TestDeliveryRecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := setup(t, courier.WithMaxAttempts(3))
	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: srv.URL,
		Unsigned:  true,
	})

	c.Start(ctx())
	defer c.Stop(ctx())

	d, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatal(err)
	}

	final := waitForState(t, c, d.ID, delivery.StateCompleted)
	if final.AttemptCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", final.AttemptCount)
	}

	_, attempts, _ := c.Status(ctx(), d.ID)
	if len(attempts) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(attempts))
	}
	last := attempts[len(attempts)-1]
	if last.Outcome != delivery.OutcomeSuccess || last.StatusCode != http.StatusOK {
		t.Fatalf("expected final success row, got %+v", last)
	}
}

func TestPerDeliveryOrdering(t *testing.T) {
	// Attempt numbers observed by the endpoint must be strictly increasing
	// for a given delivery.
	var mismatch atomic.Bool
	var seen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := seen.Add(1)
		if r.Header.Get("X-Courier-Attempt") != "" && r.Header.Get("X-Courier-Attempt") != strconv.Itoa(int(n)) {
			mismatch.Store(true)
		}
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := setup(t)
	sub, _ := createSubscription(t, c, subscription.Input{
		TargetURL: srv.URL,
		Unsigned:  true,
	})

	c.Start(ctx())
	defer c.Stop(ctx())

	d, err := c.Ingest(ctx(), sub.ID, "invoice.created", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatal(err)
	}

	waitForState(t, c, d.ID, delivery.StateCompleted)
	if mismatch.Load() {
		t.Fatal("attempt numbers were not delivered in order")
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := courier.New()
	if !errors.Is(err, courier.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}
