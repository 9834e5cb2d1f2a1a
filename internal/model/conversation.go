package model

import "time"

type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"` // group conversations only
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `json:"participants,omitempty"`
}

type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
	LastReadAt     time.Time `json:"last_read_at"`
	User           *ChatUser `json:"user,omitempty"`
}

// ConversationPreview is a conversation enriched for the list view.
type ConversationPreview struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
