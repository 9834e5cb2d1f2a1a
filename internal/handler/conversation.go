package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

type ConversationHandler struct {
	convRepo ConversationStore
	msgRepo  MessageStore
	userRepo UserStore
}

func NewConversationHandler(convRepo ConversationStore, msgRepo MessageStore, userRepo UserStore) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, msgRepo: msgRepo, userRepo: userRepo}
}

type createConversationRequest struct {
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
}

// CreateConversation creates a group, or returns the existing 1:1
// conversation when one already connects the two users.
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.IsGroup {
		if len(req.ParticipantIDs) != 1 || req.ParticipantIDs[0] == userID {
			writeError(w, http.StatusBadRequest, "direct conversation needs exactly one other participant")
			return
		}
		peerID := req.ParticipantIDs[0]
		existing, err := h.convRepo.FindDirect(r.Context(), userID, peerID)
		if err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to look up conversation")
			return
		}
	} else {
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "group conversation needs a name")
			return
		}
		if len(req.ParticipantIDs) < 1 {
			writeError(w, http.StatusBadRequest, "group conversation needs participants")
			return
		}
	}

	for _, id := range req.ParticipantIDs {
		if _, err := h.userRepo.GetChatUser(r.Context(), id); err != nil {
			writeError(w, http.StatusBadRequest, "unknown participant")
			return
		}
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Name:      req.Name,
		IsGroup:   req.IsGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !conv.IsGroup {
		conv.Name = ""
	}
	if err := h.convRepo.Create(r.Context(), conv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	members := append([]string{userID}, req.ParticipantIDs...)
	for _, id := range members {
		p := &model.Participant{ConversationID: conv.ID, UserID: id, JoinedAt: now, LastReadAt: now}
		if err := h.convRepo.AddParticipant(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add participant")
			return
		}
	}

	created, err := h.convRepo.GetByID(r.Context(), conv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListConversations returns the user's conversations as previews: last
// message plus unread count, most recently active first.
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.convRepo.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}

	previews := make([]model.ConversationPreview, 0, len(convs))
	for i := range convs {
		last, err := h.msgRepo.LastMessage(r.Context(), convs[i].ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get conversations")
			return
		}
		unread, err := h.convRepo.UnreadCount(r.Context(), convs[i].ID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get conversations")
			return
		}
		previews = append(previews, model.ConversationPreview{
			Conversation: convs[i],
			LastMessage:  last,
			UnreadCount:  unread,
		})
	}
	writeJSON(w, http.StatusOK, previews)
}

func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

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

	conv, err := h.convRepo.GetByID(r.Context(), conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type addParticipantRequest struct {
	UserID string `json:"user_id"`
}

// AddParticipant adds a user to a group conversation. 1:1 conversations are
// fixed at two members.
func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	conv, err := h.convRepo.GetByID(r.Context(), conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !conv.IsGroup {
		writeError(w, http.StatusConflict, "cannot add to a direct conversation")
		return
	}

	isMember := false
	for _, p := range conv.Participants {
		if p.UserID == userID {
			isMember = true
			break
		}
	}
	if !isMember {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req addParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.userRepo.GetChatUser(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown user")
		return
	}

	now := time.Now().UTC()
	p := &model.Participant{ConversationID: conversationID, UserID: req.UserID, JoinedAt: now, LastReadAt: now}
	if err := h.convRepo.AddParticipant(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add participant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LeaveConversation removes the caller from the conversation. The last member
// leaving deletes the conversation.
func (h *ConversationHandler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	deleted, err := h.convRepo.RemoveParticipant(r.Context(), conversationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not a participant")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"conversation_deleted": deleted})
}
