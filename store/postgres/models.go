package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:courier_subscriptions"`

	ID            string    `grove:"id,pk"`
	TargetURL     string    `grove:"target_url"`
	SecretRecord  string    `grove:"secret_record"`
	EventTypes    string    `grove:"event_types"`    // JSON array
	PayloadSchema string    `grove:"payload_schema"` // JSON text
	RateLimit     int       `grove:"rate_limit"`
	Active        bool      `grove:"active"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	eventTypes, _ := json.Marshal(sub.EventTypes) //nolint:errcheck // best-effort

	return &subscriptionModel{
		ID:            sub.ID.String(),
		TargetURL:     sub.TargetURL,
		SecretRecord:  sub.SecretRecord,
		EventTypes:    string(eventTypes),
		PayloadSchema: string(sub.PayloadSchema),
		RateLimit:     sub.RateLimit,
		Active:        sub.Active,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}

	var eventTypes []string
	if m.EventTypes != "" {
		_ = json.Unmarshal([]byte(m.EventTypes), &eventTypes) //nolint:errcheck // best-effort
	}

	var payloadSchema json.RawMessage
	if m.PayloadSchema != "" {
		payloadSchema = json.RawMessage(m.PayloadSchema)
	}

	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            subID,
		TargetURL:     m.TargetURL,
		SecretRecord:  m.SecretRecord,
		EventTypes:    eventTypes,
		PayloadSchema: payloadSchema,
		RateLimit:     m.RateLimit,
		Active:        m.Active,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:courier_deliveries"`

	ID             string     `grove:"id,pk"`
	SubscriptionID string     `grove:"subscription_id"`
	EventType      string     `grove:"event_type"`
	Payload        string     `grove:"payload"` // canonical JSON text
	State          string     `grove:"state"`
	AttemptCount   int        `grove:"attempt_count"`
	MaxAttempts    int        `grove:"max_attempts"`
	NextRetryAt    *time.Time `grove:"next_retry_at"`
	LastAttemptAt  *time.Time `grove:"last_attempt_at"`
	LastError      string     `grove:"last_error"`
	LastStatusCode int        `grove:"last_status_code"`
	LastResponse   string     `grove:"last_response"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventType:      d.EventType,
		Payload:        string(d.Payload),
		State:          string(d.State),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		NextRetryAt:    d.NextRetryAt,
		LastAttemptAt:  d.LastAttemptAt,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		LastResponse:   d.LastResponse,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	dlvID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlvID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		Payload:        json.RawMessage(m.Payload),
		State:          delivery.State(m.State),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		NextRetryAt:    m.NextRetryAt,
		LastAttemptAt:  m.LastAttemptAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- Attempt models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:courier_attempts"`

	ID          string    `grove:"id,pk"`
	DeliveryID  string    `grove:"delivery_id"`
	Number      int       `grove:"number"`
	StatusCode  int       `grove:"status_code"`
	Outcome     string    `grove:"outcome"`
	ErrorDetail string    `grove:"error_detail"`
	LatencyMs   int       `grove:"latency_ms"`
	AttemptedAt time.Time `grove:"attempted_at"`
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:          a.ID.String(),
		DeliveryID:  a.DeliveryID.String(),
		Number:      a.Number,
		StatusCode:  a.StatusCode,
		Outcome:     string(a.Outcome),
		ErrorDetail: a.ErrorDetail,
		LatencyMs:   a.LatencyMs,
		AttemptedAt: a.AttemptedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	dlvID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	return &delivery.Attempt{
		ID:          attID,
		DeliveryID:  dlvID,
		Number:      m.Number,
		StatusCode:  m.StatusCode,
		Outcome:     delivery.Outcome(m.Outcome),
		ErrorDetail: m.ErrorDetail,
		LatencyMs:   m.LatencyMs,
		AttemptedAt: m.AttemptedAt,
	}, nil
}
