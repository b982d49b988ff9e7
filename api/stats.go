package api

import (
	"net/http"
)

type statsResponse struct {
	PendingDeliveries int `json:"pending_deliveries"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.courier.Store().CountPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingDeliveries: pending,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.courier.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
