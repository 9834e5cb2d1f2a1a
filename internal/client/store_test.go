package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

var storeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, convID string, minute int) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "m-" + id,
		CreatedAt:      storeBase.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAddMessageIdempotent(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")

	s.AddMessage(msg("m1", "c1", 0))
	s.AddMessage(msg("m1", "c1", 0))

	assert.Len(t, s.Messages(), 1)
}

func TestAddMessageKeepsOrder(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")

	// Out-of-order arrival.
	s.AddMessage(msg("m3", "c1", 3))
	s.AddMessage(msg("m1", "c1", 1))
	s.AddMessage(msg("m2", "c1", 2))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages()))
}

func TestAddMessageTieBreakOnID(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")

	s.AddMessage(msg("mb", "c1", 1))
	s.AddMessage(msg("ma", "c1", 1))

	assert.Equal(t, []string{"ma", "mb"}, ids(s.Messages()))
}

func TestAddMessageIgnoresOtherConversations(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")

	s.AddMessage(msg("m1", "c2", 0))

	assert.Empty(t, s.Messages())
}

func TestSetMessagesReplacesWindow(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")
	s.AddMessage(msg("old", "c1", 0))

	s.SetMessages(model.MessagePage{
		Messages:   []model.Message{msg("m1", "c1", 1), msg("m2", "c1", 2)},
		NextCursor: "m1",
		HasMore:    true,
	})

	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages()))
	cursor, hasMore := s.NextPage()
	assert.Equal(t, "m1", cursor)
	assert.True(t, hasMore)
}

func TestPrependMessages(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")
	s.AddMessage(msg("m5", "c1", 5))
	s.AddMessage(msg("m6", "c1", 6))

	s.PrependMessages(model.MessagePage{
		Messages:   []model.Message{msg("m2", "c1", 2), msg("m3", "c1", 3), msg("m5", "c1", 5)},
		NextCursor: "m2",
		HasMore:    true,
	})

	// m5 was already present and is not duplicated.
	assert.Equal(t, []string{"m2", "m3", "m5", "m6"}, ids(s.Messages()))
	cursor, hasMore := s.NextPage()
	assert.Equal(t, "m2", cursor)
	assert.True(t, hasMore)
}

func TestApplyDeletedTombstone(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")
	s.AddMessage(msg("m1", "c1", 0))

	s.ApplyDeleted("m1")
	s.ApplyDeleted("missing")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, model.DeletedPlaceholder, msgs[0].Content)
}

func TestApplyReadMergesReceipts(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")
	s.AddMessage(msg("m1", "c1", 0))

	first := storeBase.Add(time.Minute)
	second := storeBase.Add(2 * time.Minute)
	s.ApplyRead(model.MessageRead{MessageID: "m1", UserID: "bob", ReadAt: first})
	s.ApplyRead(model.MessageRead{MessageID: "m1", UserID: "bob", ReadAt: second})

	msgs := s.Messages()
	require.Len(t, msgs[0].ReadBy, 1)
	assert.Equal(t, second, msgs[0].ReadBy[0].ReadAt)
}

func TestSwitchingConversationClearsWindow(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation("c1")
	s.AddMessage(msg("m1", "c1", 0))

	s.SetActiveConversation("c2")
	assert.Empty(t, s.Messages())
	cursor, hasMore := s.NextPage()
	assert.Empty(t, cursor)
	assert.False(t, hasMore)

	// Re-setting the active id keeps the window.
	s.AddMessage(msg("m2", "c2", 1))
	s.SetActiveConversation("c2")
	assert.Len(t, s.Messages(), 1)
}

func preview(id string, minute int) model.ConversationPreview {
	return model.ConversationPreview{
		Conversation: model.Conversation{
			ID:        id,
			UpdatedAt: storeBase.Add(time.Duration(minute) * time.Minute),
		},
	}
}

func TestAddConversationDedupesToFront(t *testing.T) {
	s := NewStore()
	s.SetConversations([]model.ConversationPreview{preview("c1", 1), preview("c2", 2)})

	s.AddConversation(preview("c3", 3))
	assert.Equal(t, "c3", s.Conversations()[0].Conversation.ID)
	assert.Len(t, s.Conversations(), 3)

	s.AddConversation(preview("c1", 4))
	convs := s.Conversations()
	assert.Equal(t, "c1", convs[0].Conversation.ID)
	assert.Len(t, convs, 3)
}

func TestApplyLastMessageMovesToFront(t *testing.T) {
	s := NewStore()
	s.SetConversations([]model.ConversationPreview{preview("c1", 1), preview("c2", 2)})

	m := msg("m1", "c2", 10)
	m.UpdatedAt = m.CreatedAt
	s.ApplyLastMessage("c2", &m)

	convs := s.Conversations()
	assert.Equal(t, "c2", convs[0].Conversation.ID)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "m1", convs[0].LastMessage.ID)
}

func TestUnreadCounters(t *testing.T) {
	s := NewStore()
	s.SetConversations([]model.ConversationPreview{preview("c1", 1), preview("c2", 2)})
	s.SetActiveConversation("c1")

	// The open conversation never accumulates unread.
	s.IncrementUnread("c1")
	s.IncrementUnread("c2")
	s.IncrementUnread("c2")

	convs := s.Conversations()
	byID := map[string]model.ConversationPreview{}
	for _, c := range convs {
		byID[c.Conversation.ID] = c
	}
	assert.Equal(t, 0, byID["c1"].UnreadCount)
	assert.Equal(t, 2, byID["c2"].UnreadCount)

	s.ResetUnread("c2")
	for _, c := range s.Conversations() {
		assert.Equal(t, 0, c.UnreadCount)
	}
}

func TestUpdateConversationPartialMerge(t *testing.T) {
	s := NewStore()
	p := preview("c1", 1)
	p.Conversation.Name = "Old name"
	s.SetConversations([]model.ConversationPreview{p})

	s.UpdateConversation(model.Conversation{ID: "c1", Name: "New name"})

	got := s.Conversations()[0].Conversation
	assert.Equal(t, "New name", got.Name)
	// Untouched fields survive the merge.
	assert.Equal(t, p.Conversation.UpdatedAt, got.UpdatedAt)

	// Unknown ids are ignored.
	s.UpdateConversation(model.Conversation{ID: "nope", Name: "x"})
	assert.Len(t, s.Conversations(), 1)
}

func TestRemoveConversation(t *testing.T) {
	s := NewStore()
	s.SetConversations([]model.ConversationPreview{preview("c1", 1), preview("c2", 2)})

	s.RemoveConversation("c1")
	s.RemoveConversation("c1")

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "c2", convs[0].Conversation.ID)
}
