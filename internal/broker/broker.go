// Package broker is the boundary to the pub/sub service: channel naming and
// authorization, the server-side publish/authorize contract, and the wire
// event catalog. The broker itself is external; delivery is at-most-once and
// unordered across channels.
package broker

import (
	"context"
	"time"

	"github.com/chatrelay/internal/model"
)

// Event names carried on conversation and user channels. Presence membership
// (member-added/member-removed/subscription-succeeded) is broker-native and
// not triggered by us.
const (
	EventNewMessage     = "new-message"
	EventMessageUpdated = "message-updated"
	EventMessageDeleted = "message-deleted"
	EventMessageRead    = "message-read"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
)

// Broker is the server-side contract of the managed pub/sub service.
type Broker interface {
	// Trigger publishes one event to one channel. Best effort: a returned
	// error means the event is lost, never that the mutation failed.
	Trigger(ctx context.Context, ch Channel, event string, payload any) error
	// AuthorizeChannel signs a subscription grant for socketID on ch. For
	// presence channels member carries the requester's public profile so the
	// broker can advertise it to other members.
	AuthorizeChannel(socketID string, ch Channel, member *MemberData) ([]byte, error)
}

// MemberData is the presence member shape advertised on presence channels.
type MemberData struct {
	ID   string     `json:"id"`
	Info MemberInfo `json:"info"`
}

type MemberInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// MemberFromChatUser builds presence member data from the public projection.
func MemberFromChatUser(u model.ChatUser) MemberData {
	return MemberData{ID: u.ID, Info: MemberInfo{ID: u.ID, Name: u.Name, Image: u.AvatarURL}}
}

// --- Typed event payloads (the wire catalog) ---

// MessageEnvelope is published on personal user channels so recipients learn
// about messages in conversations they are not currently viewing.
type MessageEnvelope struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

// MessageDeletedPayload is published on the conversation channel.
type MessageDeletedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MessageReadPayload is published on the conversation channel.
type MessageReadPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// TypingPayload is published for typing-start and typing-stop.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}
