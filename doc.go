// Package courier provides a composable webhook delivery engine for Go.
//
// Courier is a library, not a service. Import it into your application to
// accept inbound event payloads on behalf of registered subscribers, verify
// their authenticity, and deliver them over HTTP with bounded retries and a
// durable per-attempt audit trail.
//
// Key features:
//   - Subscriptions with per-subscriber secrets; only a salted hash is stored
//   - HMAC-SHA256 signature verification over a canonical JSON encoding
//   - At-least-once delivery with a fixed backoff schedule and crash recovery
//   - An append-only attempt ledger with policy-driven retention
//   - Optional JSON Schema payload validation and per-subscription rate limits
//   - Composable store pattern with multiple backends (Postgres, SQLite, Memory)
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Start(ctx)
//	defer c.Stop(ctx)
//
//	sub, signingKey, err := c.Subscriptions().Create(ctx, subscription.Input{
//	    TargetURL:  "https://example.com/hooks",
//	    EventTypes: []string{"invoice.created"},
//	})
//
//	d, err := c.Ingest(ctx, sub.ID, "invoice.created", payload, presentedSig)
package courier
