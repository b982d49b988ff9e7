package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/subscription"
)

type createSubscriptionRequest struct {
	TargetURL     string          `json:"target_url"`
	Secret        string          `json:"secret,omitempty"`
	Unsigned      bool            `json:"unsigned,omitempty"`
	EventTypes    []string        `json:"event_types,omitempty"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
	RateLimit     int             `json:"rate_limit,omitempty"`
	Active        *bool           `json:"active,omitempty"`
}

type createSubscriptionResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	// SigningKey is returned exactly once; only a salted hash of the secret
	// is stored server-side.
	SigningKey string `json:"signing_key"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := subscription.Input{
		TargetURL:     req.TargetURL,
		Secret:        req.Secret,
		Unsigned:      req.Unsigned,
		EventTypes:    req.EventTypes,
		PayloadSchema: req.PayloadSchema,
		RateLimit:     req.RateLimit,
		Active:        req.Active,
	}

	sub, key, err := h.courier.Subscriptions().Create(r.Context(), input)
	if err != nil {
		var verr *subscription.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		Subscription: sub,
		SigningKey:   key,
	})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	switch queryParam(r, "active") {
	case "true":
		active := true
		opts.Active = &active
	case "false":
		active := false
		opts.Active = &active
	}

	subs, err := h.courier.Subscriptions().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.courier.Subscriptions().Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := subscription.Input{
		TargetURL:     req.TargetURL,
		EventTypes:    req.EventTypes,
		PayloadSchema: req.PayloadSchema,
		RateLimit:     req.RateLimit,
		Active:        req.Active,
	}

	sub, updateErr := h.courier.Subscriptions().Update(r.Context(), subID, input)
	if updateErr != nil {
		if errors.Is(updateErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		var verr *subscription.ValidationError
		if errors.As(updateErr, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.courier.Subscriptions().Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	key, rotateErr := h.courier.Subscriptions().RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, courier.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"signing_key": key})
}
