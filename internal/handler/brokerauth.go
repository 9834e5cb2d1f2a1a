package handler

import (
	"errors"
	"net/http"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/middleware"
)

// BrokerAuthHandler answers the broker client's subscription auth callback.
// The request is the standard form POST the managed service's JS client
// sends: socket_id and channel_name.
type BrokerAuthHandler struct {
	authorizer *broker.Authorizer
	broker     broker.Broker
}

func NewBrokerAuthHandler(authorizer *broker.Authorizer, b broker.Broker) *BrokerAuthHandler {
	return &BrokerAuthHandler{authorizer: authorizer, broker: b}
}

// Authorize parses the channel name once, applies the grant rules and signs
// the response. Rejections are uniform 403s: a prober cannot tell a missing
// conversation from one they are excluded from.
func (h *BrokerAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	socketID := r.FormValue("socket_id")
	channelName := r.FormValue("channel_name")
	if socketID == "" || channelName == "" {
		writeError(w, http.StatusBadRequest, "missing socket_id or channel_name")
		return
	}

	ch, err := broker.ParseChannel(channelName)
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	grant, err := h.authorizer.Authorize(r.Context(), userID, ch)
	if errors.Is(err, broker.ErrChannelForbidden) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}

	resp, err := h.broker.AuthorizeChannel(socketID, grant.Channel, grant.Member)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		return
	}
}
