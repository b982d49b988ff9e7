package api

import (
	"errors"
	"net/http"

	"github.com/xraph/courier"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
)

type deliveryStatusResponse struct {
	Delivery *delivery.Delivery  `json:"delivery"`
	Attempts []*delivery.Attempt `json:"attempts"`
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, attempts, statusErr := h.courier.Status(r.Context(), dlvID)
	if statusErr != nil {
		if errors.Is(statusErr, courier.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		writeError(w, http.StatusInternalServerError, statusErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveryStatusResponse{
		Delivery: d,
		Attempts: attempts,
	})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	opts, ok := deliveryListOpts(w, r)
	if !ok {
		return
	}

	deliveries, err := h.courier.Store().ListDeliveries(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) listSubscriptionDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts, ok := deliveryListOpts(w, r)
	if !ok {
		return
	}

	deliveries, listErr := h.courier.Store().ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

// deliveryListOpts parses pagination and the optional state filter. It writes
// the error response itself and reports ok=false on a bad state value.
func deliveryListOpts(w http.ResponseWriter, r *http.Request) (delivery.ListOpts, bool) {
	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	if raw := queryParam(r, "state"); raw != "" {
		state := delivery.State(raw)
		switch state {
		case delivery.StatePending, delivery.StateInProgress, delivery.StateCompleted,
			delivery.StatePendingRetry, delivery.StateFailed:
			opts.State = &state
		default:
			writeError(w, http.StatusBadRequest, "invalid state filter")
			return delivery.ListOpts{}, false
		}
	}

	return opts, true
}
