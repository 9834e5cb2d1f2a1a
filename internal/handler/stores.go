package handler

import (
	"context"
	"time"

	"github.com/chatrelay/internal/model"
)

// Narrow views of the repositories, one per handler dependency. The concrete
// pgx-backed repositories satisfy them; tests substitute fakes.

type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindDirect(ctx context.Context, userID1, userID2 string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	AddParticipant(ctx context.Context, p *model.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) (deleted bool, err error)
	Touch(ctx context.Context, conversationID string, t time.Time) error
	BumpLastRead(ctx context.Context, conversationID, userID string, t time.Time) error
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	List(ctx context.Context, conversationID, cursor string, limit int) (*model.MessagePage, error)
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	UpdateContent(ctx context.Context, id, content string, t time.Time) error
	SoftDelete(ctx context.Context, id string, t time.Time) error
	UpsertRead(ctx context.Context, messageID, userID string, readAt time.Time) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetChatUser(ctx context.Context, id string) (*model.ChatUser, error)
	SearchByName(ctx context.Context, selfID, query string, limit int) ([]model.ChatUser, error)
}

type PushStore interface {
	Save(ctx context.Context, sub *model.PushSubscription) error
	Delete(ctx context.Context, endpoint string) error
}
