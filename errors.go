package courier

import (
	"errors"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/subscription"
)

// Sentinel errors returned by Courier operations.
var (
	// ErrNoStore is returned when a Service is created without a store.
	ErrNoStore = errors.New("courier: store is required")

	// ErrSubscriptionNotFound is returned when a subscription does not exist
	// or is inactive.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrNotSubscribed is returned by Ingest when the subscription's event
	// type filter excludes the event. The payload is accepted but skipped:
	// no delivery is created.
	ErrNotSubscribed = errors.New("courier: event type not subscribed")

	// ErrSignatureRequired is returned by Ingest when the subscription has a
	// secret configured and no signature was presented.
	ErrSignatureRequired = errors.New("courier: signature required")

	// ErrSignatureInvalid is returned by Ingest when signature verification fails.
	ErrSignatureInvalid = errors.New("courier: invalid signature")

	// ErrPayloadInvalid is returned by Ingest when the payload is not valid
	// JSON or fails the subscription's payload schema.
	ErrPayloadInvalid = errors.New("courier: invalid payload")

	// ErrStoreClosed is returned when a store operation is attempted after the
	// store is closed.
	ErrStoreClosed = errors.New("courier: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("courier: migration failed")
)
