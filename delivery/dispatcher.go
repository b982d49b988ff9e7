package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/subscription"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Dispatcher performs the outbound HTTP webhook call.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher creates a dispatcher with the given per-attempt HTTP timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch POSTs the delivery payload to the subscription's target URL and
// returns the result. The body is the delivery's canonical payload; when the
// subscription has a secret, the request carries an HMAC signature computed
// with the subscription's derived signing key.
func (s *Dispatcher) Dispatch(ctx context.Context, sub *subscription.Subscription, d *Delivery) Result {
	body := []byte(d.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0")
	req.Header.Set("X-Courier-Delivery-ID", d.ID.String())
	req.Header.Set("X-Courier-Event-Type", d.EventType)
	req.Header.Set("X-Courier-Attempt", fmt.Sprintf("%d", d.AttemptCount))

	if sub.RequiresSignature() {
		key, keyErr := signature.SigningKey(sub.SecretRecord)
		if keyErr != nil {
			return Result{Error: fmt.Sprintf("derive signing key: %v", keyErr)}
		}
		req.Header.Set("X-Hub-Signature-256", signature.SignCanonical(body, key))
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
