// Package subscription manages webhook subscriptions: who receives events,
// where, and under what secret.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
)

// ErrNotFound is returned when a subscription does not exist or is inactive.
var ErrNotFound = errors.New("courier: subscription not found")

// Subscription is a registered webhook receiver.
type Subscription struct {
	entity.Entity

	// ID is the unique subscription identifier (prefix "sub").
	ID id.ID `json:"id"`

	// TargetURL is the HTTP endpoint deliveries are POSTed to.
	TargetURL string `json:"target_url"`

	// SecretRecord is the salted hash of the subscription secret, stored as
	// "salt:hash". Never serialized and never logged. Empty means the
	// subscription does not require inbound signatures.
	SecretRecord string `json:"-"`

	// EventTypes filters which event types this subscription receives.
	// Empty means all types.
	EventTypes []string `json:"event_types,omitempty"`

	// PayloadSchema is an optional JSON Schema inbound payloads must satisfy.
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`

	// RateLimit caps outbound deliveries per second for this subscription.
	// 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// Active controls whether the subscription accepts events. Inactive
	// subscriptions resolve as not found.
	Active bool `json:"active"`
}

// Accepts reports whether the subscription's event type filter admits eventType.
// An empty filter admits everything.
func (s *Subscription) Accepts(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// RequiresSignature reports whether inbound events for this subscription must
// carry a valid signature.
func (s *Subscription) RequiresSignature() bool {
	return s.SecretRecord != ""
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.EventTypes != nil {
		c.EventTypes = append([]string(nil), s.EventTypes...)
	}
	if s.PayloadSchema != nil {
		c.PayloadSchema = append(json.RawMessage(nil), s.PayloadSchema...)
	}
	return &c
}

// ListOpts controls subscription listing.
type ListOpts struct {
	// Active filters by active flag when non-nil.
	Active *bool

	// Limit caps the number of results. 0 means no limit.
	Limit int

	// Offset skips the first N results.
	Offset int
}

// ValidationError describes an invalid subscription field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid subscription: %s: %s", e.Field, e.Message)
}
