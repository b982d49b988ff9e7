package delivery

import "time"

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Completed means the receiver acknowledged the delivery (2xx).
	Completed Decision = iota

	// Retry means the delivery should be attempted again later.
	Retry

	// Failed means the delivery exhausted its attempt budget.
	Failed
)

// Result holds the outcome of a single HTTP delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Succeeded reports whether the attempt got a 2xx response.
func (r Result) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Policy decides what happens to a delivery after each attempt and schedules
// retries from a fixed backoff table.
type Policy struct {
	schedule []time.Duration
}

// defaultSchedule backs retries when no table is configured.
var defaultSchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// NewPolicy creates a retry policy with the given backoff schedule.
// An empty schedule falls back to the default table.
func NewPolicy(schedule []time.Duration) *Policy {
	if len(schedule) == 0 {
		schedule = defaultSchedule
	}
	return &Policy{schedule: schedule}
}

// Decide classifies an attempt result. Any 2xx completes the delivery. Every
// other outcome, including transport errors with no status code, is a failed
// attempt: retried while budget remains, failed once AttemptCount reaches
// MaxAttempts. Status codes get no special cases; a 404 and a 503 retry the
// same way.
func (p *Policy) Decide(res Result, d *Delivery) Decision {
	if res.Succeeded() {
		return Completed
	}
	if d.AttemptCount < d.MaxAttempts {
		return Retry
	}
	return Failed
}

// NextRetry returns when the delivery becomes due again, indexing the backoff
// table by attemptCount-1 and clamping to the last entry.
func (p *Policy) NextRetry(attemptCount int) time.Time {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return time.Now().UTC().Add(p.schedule[idx])
}
