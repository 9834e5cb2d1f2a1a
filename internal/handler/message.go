package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatrelay/internal/fanout"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

type MessageHandler struct {
	msgRepo   MessageStore
	convRepo  ConversationStore
	publisher *fanout.Publisher
}

func NewMessageHandler(msgRepo MessageStore, convRepo ConversationStore, publisher *fanout.Publisher) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, convRepo: convRepo, publisher: publisher}
}

type sendMessageRequest struct {
	Content        string            `json:"content"`
	Type           model.MessageType `json:"type"`
	AttachmentURL  string            `json:"attachment_url"`
	AttachmentType string            `json:"attachment_type"`
}

// SendMessage persists the message, bumps the conversation watermark and fans
// out in the background. The insert alone decides success: a broker outage
// never fails the send.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
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

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && req.AttachmentURL == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}
	if req.Type == "" {
		req.Type = model.MessageTypeText
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		Type:           req.Type,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.msgRepo.Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	if err := h.convRepo.Touch(r.Context(), conversationID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}
	// Senders have seen their own message.
	if err := h.convRepo.BumpLastRead(r.Context(), conversationID, userID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update read state")
		return
	}

	full, err := h.msgRepo.GetByID(r.Context(), msg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}

	go h.publisher.MessageCreated(full)

	writeJSON(w, http.StatusCreated, full)
}

// ListMessages returns one page of non-deleted history, oldest first, with an
// exclusive cursor for the next page.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.convRepo.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := h.msgRepo.List(r.Context(), conversationID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	// Viewing history silently advances the watermark; no receipt events.
	if cursor == "" {
		if err := h.convRepo.BumpLastRead(r.Context(), conversationID, userID, time.Now().UTC()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update read state")
			return
		}
	}

	writeJSON(w, http.StatusOK, page)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage rewrites the content of the sender's own message. Deleted
// messages are immutable tombstones and refuse the edit.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	msg, err := h.msgRepo.GetByID(r.Context(), messageID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg.SenderID != userID {
		writeError(w, http.StatusForbidden, "not the sender")
		return
	}
	if msg.IsDeleted {
		writeError(w, http.StatusConflict, "message is deleted")
		return
	}

	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.msgRepo.UpdateContent(r.Context(), messageID, req.Content, time.Now().UTC())
	if errors.Is(err, repository.ErrConflict) {
		// Soft-deleted between the load above and the update.
		writeError(w, http.StatusConflict, "message is deleted")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}
	updated, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}

	go h.publisher.MessageUpdated(updated)

	writeJSON(w, http.StatusOK, updated)
}

// DeleteMessage soft-deletes the sender's own message. Deleting twice is
// idempotent. The tombstone goes to the conversation channel only; personal
// channels stay quiet so unread counts are unaffected.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	msg, err := h.msgRepo.GetByID(r.Context(), messageID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if msg.SenderID != userID {
		writeError(w, http.StatusForbidden, "not the sender")
		return
	}
	if msg.IsDeleted {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.msgRepo.SoftDelete(r.Context(), messageID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	go h.publisher.MessageDeleted(msg.ConversationID, messageID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MarkRead records a read receipt and bumps the reader's watermark. Marking
// one's own message is a silent no-op. Re-marking refreshes the timestamp and
// is broadcast again; viewers merge receipts idempotently.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	msg, err := h.msgRepo.GetByID(r.Context(), messageID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}

	ok, err := h.convRepo.IsParticipant(r.Context(), msg.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	if msg.SenderID == userID {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	now := time.Now().UTC()
	if err := h.msgRepo.UpsertRead(r.Context(), messageID, userID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	if err := h.convRepo.BumpLastRead(r.Context(), msg.ConversationID, userID, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update read state")
		return
	}

	go h.publisher.MessageRead(msg.ConversationID, messageID, userID, now)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
