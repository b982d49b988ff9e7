package courier

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/retention"
	"github.com/xraph/courier/schema"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() {
	c.subSvc = subscription.NewService(c.store, c.cache, c.config.CacheTTL, c.logger)
	c.resolver = subscription.NewResolver(c.store, c.cache, c.config.CacheTTL, c.logger)
	c.validator = schema.NewValidator()
	c.limiter = ratelimit.New()

	c.engine = delivery.NewEngine(c.store, c.resolver, delivery.EngineConfig{
		Concurrency:      c.config.Concurrency,
		PollInterval:     c.config.PollInterval,
		BatchSize:        c.config.BatchSize,
		RequestTimeout:   c.config.RequestTimeout,
		BackoffTable:     c.config.BackoffTable,
		RecoveryInterval: c.config.RecoveryInterval,
		Metrics:          c.metrics,
		Tracer:           c.tracer,
		RateLimiter:      c.limiter,
	}, c.logger)

	c.sweeper = retention.NewSweeper(c.store, c.config.AttemptRetention, c.config.RetentionInterval, c.logger)
}

// Start begins the delivery engine and the retention sweeper.
func (c *Courier) Start(ctx context.Context) {
	c.engine.Start(ctx)
	c.sweeper.Start(ctx)
}

// Stop gracefully shuts down the delivery engine and the retention sweeper.
func (c *Courier) Stop(ctx context.Context) {
	c.engine.Stop(ctx)
	c.sweeper.Stop(ctx)
}

// Ingest accepts an inbound event payload on behalf of a subscription and
// enqueues it for delivery.
//
// The critical path:
//  1. Resolve the subscription (inactive or unknown subscriptions reject).
//  2. Drop events the subscription does not listen for (accepted, no delivery).
//  3. Verify the payload signature when the subscription carries a secret.
//  4. Validate the payload against the subscription's JSON Schema (if set).
//  5. Canonicalize the payload and enqueue a pending delivery.
//
// The returned delivery is nil when the event was accepted but filtered out
// by the subscription's event type list.
func (c *Courier) Ingest(ctx context.Context, subID id.ID, eventType string, payload []byte, presentedSig string) (*delivery.Delivery, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartIngestSpan(ctx, subID.String(), eventType)
		defer span.End()
	}

	// 1. Resolve subscription.
	sub, err := c.resolver.Resolve(ctx, subID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			c.reject(ctx, "subscription_not_found")
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
		}
		return nil, fmt.Errorf("courier: resolve subscription: %w", err)
	}

	// 2. Event type filter. The event is acknowledged but nothing is
	// enqueued, and the filter decides before any signature handling.
	if !sub.Accepts(eventType) {
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, eventType)
	}

	// 3. Signature verification. A subscription with a secret never accepts
	// an unsigned payload, and there is no fallback key.
	if sub.RequiresSignature() {
		if presentedSig == "" {
			c.reject(ctx, "signature_missing")
			return nil, ErrSignatureRequired
		}
		if !signature.Verify(payload, sub.SecretRecord, presentedSig) {
			c.reject(ctx, "signature_invalid")
			return nil, ErrSignatureInvalid
		}
	}

	// 4. Schema validation.
	if len(sub.PayloadSchema) > 0 {
		if validateErr := c.validator.Validate(sub.PayloadSchema, payload); validateErr != nil {
			c.reject(ctx, "payload_invalid")
			return nil, fmt.Errorf("%w: %s", ErrPayloadInvalid, validateErr.Error())
		}
	}

	// 5. Canonicalize and enqueue. The canonical bytes are what gets signed
	// and delivered, so the stored payload is the wire payload.
	canonical, err := signature.Canonicalize(payload)
	if err != nil {
		c.reject(ctx, "payload_invalid")
		return nil, fmt.Errorf("%w: %s", ErrPayloadInvalid, err.Error())
	}

	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        canonical,
		State:          delivery.StatePending,
		AttemptCount:   0,
		MaxAttempts:    c.config.MaxAttempts,
	}

	if err := c.store.Enqueue(ctx, d); err != nil {
		return nil, fmt.Errorf("courier: enqueue delivery: %w", err)
	}

	if c.metrics != nil {
		c.metrics.EventsIngestedTotal.Inc()
		c.metrics.PendingDeliveries.Inc()
	}

	c.logger.DebugContext(ctx, "event ingested",
		"delivery_id", d.ID,
		"subscription_id", sub.ID,
		"event_type", eventType,
	)

	return d, nil
}

// Status returns a delivery together with its full attempt ledger.
func (c *Courier) Status(ctx context.Context, dlvID id.ID) (*delivery.Delivery, []*delivery.Attempt, error) {
	d, err := c.store.GetDelivery(ctx, dlvID)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := c.store.ListAttempts(ctx, dlvID)
	if err != nil {
		return nil, nil, err
	}
	return d, attempts, nil
}

// Subscriptions returns the subscription management service.
func (c *Courier) Subscriptions() *subscription.Service {
	return c.subSvc
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}

func (c *Courier) reject(ctx context.Context, reason string) {
	if c.metrics != nil {
		c.metrics.RecordRejection(reason)
	}
	c.logger.DebugContext(ctx, "event rejected", "reason", reason)
}
