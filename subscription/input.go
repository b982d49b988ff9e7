package subscription

import (
	"encoding/json"
	"net/url"
)

// Input carries the fields for creating or updating a subscription.
// Secret is the plaintext subscription secret. It is hashed immediately and
// never stored or logged. An empty Secret means one is generated, unless
// Unsigned is set, in which case the subscription carries no secret and its
// deliveries are not signed.
type Input struct {
	TargetURL     string          `json:"target_url"`
	Secret        string          `json:"secret,omitempty"`
	Unsigned      bool            `json:"unsigned,omitempty"`
	EventTypes    []string        `json:"event_types,omitempty"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
	RateLimit     int             `json:"rate_limit,omitempty"`
	Active        *bool           `json:"active,omitempty"`
}

// Validate checks the input for a create operation.
func (in *Input) Validate() error {
	if in.TargetURL == "" {
		return &ValidationError{Field: "target_url", Message: "is required"}
	}
	u, err := url.Parse(in.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "target_url", Message: "must be a valid http or https URL"}
	}
	if in.Unsigned && in.Secret != "" {
		return &ValidationError{Field: "secret", Message: "must be empty for an unsigned subscription"}
	}
	if in.RateLimit < 0 {
		return &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}
	if len(in.PayloadSchema) > 0 && !json.Valid(in.PayloadSchema) {
		return &ValidationError{Field: "payload_schema", Message: "must be valid JSON"}
	}
	return nil
}
