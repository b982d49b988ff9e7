package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/subscription"
)

// recoveryGrace pads the stuck-delivery cutoff beyond the worst-case attempt
// duration so recovery never races a live worker.
const recoveryGrace = 30 * time.Second

// RateLimiter throttles outbound deliveries per subscription.
type RateLimiter interface {
	// Wait blocks until key may proceed at ratePerSec, or ctx is done.
	Wait(ctx context.Context, key string, ratePerSec int) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency      int
	PollInterval     time.Duration
	BatchSize        int
	RequestTimeout   time.Duration
	BackoffTable     []time.Duration
	RecoveryInterval time.Duration
	Metrics          *observability.Metrics
	Tracer           *observability.Tracer
	RateLimiter      RateLimiter
}

// Engine is the delivery worker pool. It claims due deliveries, performs the
// HTTP attempt, and finalizes each claim with exactly one attempt ledger row.
type Engine struct {
	store      Store
	resolver   SubscriptionResolver
	dispatcher *Dispatcher
	policy     *Policy
	config     EngineConfig
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store Store, resolver SubscriptionResolver, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		resolver:   resolver,
		dispatcher: NewDispatcher(cfg.RequestTimeout),
		policy:     NewPolicy(cfg.BackoffTable),
		config:     cfg,
		logger:     logger,
	}
}

// Start begins the delivery workers, poll loop and recovery loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	if e.config.RecoveryInterval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.recoveryLoop(ctx)
		}()
	}
}

// Stop cancels the loops and waits for in-flight deliveries to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically claims due deliveries and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Claim(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "claim failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, del)
				}(d)
			}
		}
	}
}

// process handles one claimed delivery: resolve subscription, dispatch,
// decide, finalize. The claim already committed the attempt increment, so
// every path through here must finalize with a ledger row.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.SubscriptionID.String(), d.EventType)
	}

	var result Result

	sub, err := e.resolver.Resolve(ctx, d.SubscriptionID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		result = Result{Error: "subscription not found or inactive"}
	case err != nil:
		result = Result{Error: "resolve subscription: " + err.Error()}
	default:
		if e.config.RateLimiter != nil && sub.RateLimit > 0 {
			// The wait is capped at the request timeout so the whole claim
			// (wait plus dispatch) stays under the recovery cutoff and the
			// recovery sweep never races a live worker's ledger row.
			waitCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
			waitErr := e.config.RateLimiter.Wait(waitCtx, sub.ID.String(), sub.RateLimit)
			cancel()
			if waitErr != nil {
				result = Result{Error: "rate limit wait: " + waitErr.Error()}
				break
			}
		}
		result = e.dispatcher.Dispatch(ctx, sub, d)
	}

	e.finish(ctx, d, result, span)
}

// finish records the attempt, applies the retry decision and settles the delivery.
func (e *Engine) finish(ctx context.Context, d *Delivery, result Result, span trace.Span) {
	now := time.Now().UTC()

	att := &Attempt{
		ID:          id.NewAttemptID(),
		DeliveryID:  d.ID,
		Number:      d.AttemptCount,
		StatusCode:  result.StatusCode,
		Outcome:     OutcomeFailedAttempt,
		ErrorDetail: result.Error,
		LatencyMs:   result.LatencyMs,
		AttemptedAt: now,
	}
	if result.Succeeded() {
		att.Outcome = OutcomeSuccess
		att.ErrorDetail = ""
	}

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = result.Response

	latencySeconds := float64(result.LatencyMs) / 1000.0
	decision := e.policy.Decide(result, d)

	switch decision {
	case Completed:
		d.State = StateCompleted
		d.CompletedAt = &now
		d.NextRetryAt = nil
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("completed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		next := e.policy.NextRetry(d.AttemptCount)
		d.State = StatePendingRetry
		d.NextRetryAt = &next
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "attempt", d.AttemptCount, "next_at", next)

	case Failed:
		d.State = StateFailed
		d.CompletedAt = &now
		d.NextRetryAt = nil
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "attempts", d.AttemptCount, "status", result.StatusCode, "error", result.Error)
	}

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, result.LatencyMs, d.LastError)
	}

	if err := e.store.Finalize(ctx, d, att); err != nil {
		e.logger.ErrorContext(ctx, "finalize delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}

// recoveryLoop reconciles deliveries stranded in_progress by a crashed worker.
func (e *Engine) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.recover(ctx)
		}
	}
}

// recover settles stuck deliveries from the attempt ledger. A claim whose
// ledger row is missing was interrupted before finalize: it gets a synthetic
// failed attempt. A claim whose row exists finalized the ledger but not the
// delivery row: the decision is re-derived from that row. An attempt is never
// assumed successful without a recorded success.
func (e *Engine) recover(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-(2*e.config.RequestTimeout + recoveryGrace))

	stuck, err := e.store.ListStuck(ctx, cutoff)
	if err != nil {
		e.logger.ErrorContext(ctx, "list stuck deliveries failed", "error", err)
		return
	}

	for _, d := range stuck {
		count, err := e.store.CountAttempts(ctx, d.ID)
		if err != nil {
			e.logger.ErrorContext(ctx, "count attempts failed", "delivery_id", d.ID, "error", err)
			continue
		}

		if count < d.AttemptCount {
			e.logger.WarnContext(ctx, "recovering interrupted delivery",
				"delivery_id", d.ID, "attempt", d.AttemptCount)
			e.finish(ctx, d, Result{Error: "attempt interrupted before completion"}, nil)
			continue
		}

		// Ledger row exists; only the delivery row settle was lost.
		attempts, err := e.store.ListAttempts(ctx, d.ID)
		if err != nil || len(attempts) == 0 {
			e.logger.ErrorContext(ctx, "list attempts failed", "delivery_id", d.ID, "error", err)
			continue
		}
		last := attempts[len(attempts)-1]

		result := Result{StatusCode: last.StatusCode, Error: last.ErrorDetail, LatencyMs: last.LatencyMs}
		if last.Outcome == OutcomeSuccess && !result.Succeeded() {
			result.StatusCode = 200
		}
		e.logger.WarnContext(ctx, "resettling delivery from attempt ledger",
			"delivery_id", d.ID, "attempt", last.Number, "outcome", last.Outcome)
		e.settle(ctx, d, result)
	}
}

// settle applies the retry decision for a delivery whose attempt ledger row
// already exists, without appending another row.
func (e *Engine) settle(ctx context.Context, d *Delivery, result Result) {
	now := time.Now().UTC()

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode

	switch e.policy.Decide(result, d) {
	case Completed:
		d.State = StateCompleted
		d.CompletedAt = &now
		d.NextRetryAt = nil
	case Retry:
		next := e.policy.NextRetry(d.AttemptCount)
		d.State = StatePendingRetry
		d.NextRetryAt = &next
	case Failed:
		d.State = StateFailed
		d.CompletedAt = &now
		d.NextRetryAt = nil
	}

	if err := e.store.Finalize(ctx, d, nil); err != nil {
		e.logger.ErrorContext(ctx, "finalize delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}
