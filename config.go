package courier

import "time"

// Config holds the configuration for a Courier service.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries claimed per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the maximum number of delivery attempts before a
	// delivery is marked failed.
	MaxAttempts int

	// BackoffTable defines the wait before retry N, indexed by
	// attempt_count-1 and clamped to the last entry.
	BackoffTable []time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL bounds how long a subscription read stays cached. Mutations
	// invalidate synchronously; the TTL only bounds staleness after an
	// invalidation is missed (e.g. cache backend hiccup).
	CacheTTL time.Duration

	// AttemptRetention is how long attempt ledger rows of terminal
	// deliveries are kept before the retention sweep purges them.
	// 0 disables the sweep.
	AttemptRetention time.Duration

	// RetentionInterval is how often the retention sweep runs.
	RetentionInterval time.Duration

	// RecoveryInterval is how often the engine scans for deliveries stuck
	// in_progress by a crash.
	RecoveryInterval time.Duration
}

// DefaultBackoffTable holds the default retry delays.
var DefaultBackoffTable = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		BatchSize:         50,
		RequestTimeout:    10 * time.Second,
		MaxAttempts:       3,
		BackoffTable:      DefaultBackoffTable,
		ShutdownTimeout:   30 * time.Second,
		CacheTTL:          1 * time.Hour,
		AttemptRetention:  72 * time.Hour,
		RetentionInterval: 12 * time.Hour,
		RecoveryInterval:  30 * time.Second,
	}
}
