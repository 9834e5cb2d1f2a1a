package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/fanout"
	"github.com/chatrelay/internal/middleware"
)

// TypingHandler relays ephemeral typing signals. Nothing is persisted: a
// signal that misses a subscriber is simply gone.
type TypingHandler struct {
	convRepo  ConversationStore
	userRepo  UserStore
	publisher *fanout.Publisher
}

func NewTypingHandler(convRepo ConversationStore, userRepo UserStore, publisher *fanout.Publisher) *TypingHandler {
	return &TypingHandler{convRepo: convRepo, userRepo: userRepo, publisher: publisher}
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *TypingHandler) Typing(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.convRepo.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		// Indistinguishable from a conversation that does not exist.
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	user, err := h.userRepo.GetChatUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	event := broker.EventTypingStop
	if req.IsTyping {
		event = broker.EventTypingStart
	}
	go h.publisher.Typing(conversationID, event, broker.TypingPayload{UserID: user.ID, UserName: user.Name})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
