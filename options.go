package courier

import (
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/retention"
	"github.com/xraph/courier/schema"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/subscription"
)

// Courier is the root webhook delivery engine.
type Courier struct {
	config    Config
	store     store.Store
	cache     subscription.Cache
	subSvc    *subscription.Service
	resolver  *subscription.Resolver
	validator *schema.Validator
	limiter   *ratelimit.Limiter
	engine    *delivery.Engine
	sweeper   *retention.Sweeper
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// Option configures a Courier instance.
type Option func(*Courier) error

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	c.wireServices()
	return c, nil
}

// WithStore sets the persistence backend for the Courier instance.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithCache sets the subscription read cache. Without one, every resolve
// hits the store.
func WithCache(cache subscription.Cache) Option {
	return func(c *Courier) error {
		c.cache = cache
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Courier) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(c *Courier) error {
		c.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the global default for maximum delivery attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Courier) error {
		c.config.MaxAttempts = n
		return nil
	}
}

// WithBackoffTable sets the wait intervals between retry attempts.
func WithBackoffTable(table []time.Duration) Option {
	return func(c *Courier) error {
		c.config.BackoffTable = table
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for cached subscription reads.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.CacheTTL = d
		return nil
	}
}

// WithAttemptRetention sets how long attempt ledger rows of settled
// deliveries are kept. Zero disables the retention sweep.
func WithAttemptRetention(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.AttemptRetention = d
		return nil
	}
}

// WithRetentionInterval sets how often the retention sweep runs.
func WithRetentionInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RetentionInterval = d
		return nil
	}
}

// WithRecoveryInterval sets how often the engine scans for deliveries left
// in flight by a crash. Zero disables the recovery loop.
func WithRecoveryInterval(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.RecoveryInterval = d
		return nil
	}
}

// WithMetrics attaches Prometheus-style metrics to the engine.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracing attaches an OpenTelemetry tracer to ingest and delivery spans.
func WithTracing(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}
