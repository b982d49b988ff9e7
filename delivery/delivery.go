// Package delivery implements the webhook delivery pipeline: durable delivery
// records, the attempt ledger, and the worker engine that drives them through
// their state machine.
package delivery

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// ErrNotFound is returned when a delivery does not exist.
var ErrNotFound = errors.New("courier: delivery not found")

// State represents the current state of a delivery.
type State string

const (
	// StatePending indicates the delivery is queued and awaiting its first attempt.
	StatePending State = "pending"

	// StateInProgress indicates a worker has claimed the delivery and an
	// attempt may be in flight.
	StateInProgress State = "in_progress"

	// StateCompleted indicates the receiver acknowledged the delivery (2xx).
	StateCompleted State = "completed"

	// StatePendingRetry indicates a failed attempt with retry budget left;
	// the delivery becomes due again at NextRetryAt.
	StatePendingRetry State = "pending_retry"

	// StateFailed indicates the delivery exhausted its attempts. Terminal.
	StateFailed State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Delivery is one durable delivery obligation: a payload owed to a
// subscription's target URL.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery (prefix "dlv").
	ID id.ID `json:"id"`

	// SubscriptionID references the receiving subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the event type of the payload.
	EventType string `json:"event_type"`

	// Payload is the canonical JSON payload to deliver.
	Payload json.RawMessage `json:"payload"`

	// State is the current delivery state.
	State State `json:"state"`

	// AttemptCount is the number of attempts started so far. It is committed
	// durably when a worker claims the delivery, before the outbound call, so
	// a crash mid-attempt can never under-count.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the attempt budget before the delivery is marked failed.
	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is when the delivery becomes due again. Non-nil exactly
	// when State is pending_retry.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// LastAttemptAt is when the most recent attempt was claimed.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the HTTP status code from the most recent attempt,
	// 0 when the attempt never produced a response.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is the response body from the most recent attempt (capped at 1KB).
	LastResponse string `json:"last_response,omitempty"`

	// CompletedAt is when the delivery reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Outcome classifies a single attempt in the ledger.
type Outcome string

const (
	// OutcomeSuccess records an attempt the receiver acknowledged.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailedAttempt records an attempt that did not succeed.
	OutcomeFailedAttempt Outcome = "failed_attempt"
)

// Attempt is one row of the per-delivery audit ledger. Rows are append-only:
// every claimed attempt produces exactly one row.
type Attempt struct {
	// ID is the unique TypeID for this attempt (prefix "att").
	ID id.ID `json:"id"`

	// DeliveryID references the parent delivery.
	DeliveryID id.ID `json:"delivery_id"`

	// Number is the 1-based attempt ordinal, equal to the delivery's
	// AttemptCount at the time of the attempt.
	Number int `json:"number"`

	// StatusCode is the HTTP status received, 0 when no response arrived.
	StatusCode int `json:"status_code,omitempty"`

	// Outcome is the attempt classification.
	Outcome Outcome `json:"outcome"`

	// ErrorDetail describes why the attempt failed, empty on success.
	ErrorDetail string `json:"error_detail,omitempty"`

	// LatencyMs is the attempt latency in milliseconds.
	LatencyMs int `json:"latency_ms,omitempty"`

	// AttemptedAt is when the attempt finished.
	AttemptedAt time.Time `json:"attempted_at"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}
