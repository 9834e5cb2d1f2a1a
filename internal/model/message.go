package model

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeAudio MessageType = "AUDIO"
	MessageTypeFile  MessageType = "FILE"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	AttachmentURL  string        `json:"attachment_url,omitempty"`
	AttachmentType string        `json:"attachment_type,omitempty"`
	IsEdited       bool          `json:"is_edited"`
	IsDeleted      bool          `json:"is_deleted"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Sender         *ChatUser     `json:"sender,omitempty"`
	ReadBy         []MessageRead `json:"read_by"`
}

// OrderBefore reports whether m precedes o in canonical conversation order:
// ascending created_at, message id as tie-break.
func (m *Message) OrderBefore(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

type MessageRead struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	ReadAt    time.Time `json:"read_at"`
}

// MessagePage is one page of history in chronological order. NextCursor is
// the id of the oldest returned message; empty when HasMore is false.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}
