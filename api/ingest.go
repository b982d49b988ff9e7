package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// maxIngestBody caps inbound payload size at 1 MiB.
const maxIngestBody = 1 << 20

// EventTypeHeader carries the event type of an inbound payload.
const EventTypeHeader = "X-Courier-Event-Type"

// SignatureHeader carries the HMAC-SHA256 payload signature.
const SignatureHeader = "X-Hub-Signature-256"

type ingestResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	r.Body.Close() //nolint:errcheck // best effort
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	eventType := r.Header.Get(EventTypeHeader)
	if eventType == "" {
		eventType = queryParam(r, "type")
	}
	presentedSig := r.Header.Get(SignatureHeader)

	d, ingestErr := h.courier.Ingest(r.Context(), subID, eventType, payload, presentedSig)
	if ingestErr != nil {
		switch {
		case errors.Is(ingestErr, courier.ErrSubscriptionNotFound):
			writeError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(ingestErr, courier.ErrSignatureRequired):
			writeError(w, http.StatusBadRequest, "signature required")
		case errors.Is(ingestErr, courier.ErrSignatureInvalid):
			writeError(w, http.StatusUnauthorized, "signature verification failed")
		case errors.Is(ingestErr, courier.ErrPayloadInvalid):
			writeError(w, http.StatusBadRequest, ingestErr.Error())
		case errors.Is(ingestErr, courier.ErrNotSubscribed):
			// Accepted but filtered out: no delivery is created.
			writeJSON(w, http.StatusAccepted, ingestResponse{Status: "not_subscribed"})
		default:
			writeError(w, http.StatusInternalServerError, ingestErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:     "accepted",
		DeliveryID: d.ID.String(),
	})
}
