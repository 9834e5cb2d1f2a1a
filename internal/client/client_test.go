package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/model"
)

func fire(t *testing.T, conn *fakeConn, channel, event string, payload any) {
	t.Helper()
	sub, ok := conn.subs[channel]
	require.True(t, ok, "no subscription on %s", channel)
	fn, ok := sub.bindings[event]
	require.True(t, ok, "no binding for %s on %s", event, channel)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	fn(data)
}

func connectedClient(t *testing.T) (*ChatClient, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	c := NewChatClient("alice", conn)
	require.NoError(t, c.Connect())
	return c, conn
}

func TestConnectSubscribesPersonalAndGlobal(t *testing.T) {
	_, conn := connectedClient(t)
	assert.ElementsMatch(t, []string{"private-user-alice", "presence-global"}, conn.subscribed)
}

func TestOpenConversationSwitchesChannels(t *testing.T) {
	c, conn := connectedClient(t)

	require.NoError(t, c.OpenConversation("c1"))
	assert.Contains(t, conn.subscribed, "private-conversation-c1")
	assert.Contains(t, conn.subscribed, "presence-conversation-c1")

	require.NoError(t, c.OpenConversation("c2"))
	assert.Contains(t, conn.unsubscribed, "private-conversation-c1")
	assert.Contains(t, conn.unsubscribed, "presence-conversation-c1")
	assert.Equal(t, "c2", c.Store().ActiveConversation())

	// Closing without a successor.
	require.NoError(t, c.OpenConversation(""))
	assert.Contains(t, conn.unsubscribed, "private-conversation-c2")
}

func TestNewMessageEventFillsWindowAndStopsTyping(t *testing.T) {
	c, conn := connectedClient(t)
	require.NoError(t, c.OpenConversation("c1"))

	c.Typing().Start("c1", "bob", "Bob")

	m := model.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "hi",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	fire(t, conn, "private-conversation-c1", broker.EventNewMessage, m)

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	// The sender's message supersedes their typing indicator.
	assert.Empty(t, c.Typing().Typing("c1"))
}

func TestPersonalEnvelopeDrivesConversationList(t *testing.T) {
	c, conn := connectedClient(t)
	c.Store().SetConversations([]model.ConversationPreview{
		{Conversation: model.Conversation{ID: "c1"}},
		{Conversation: model.Conversation{ID: "c2"}},
	})
	require.NoError(t, c.OpenConversation("c1"))

	env := broker.MessageEnvelope{
		ConversationID: "c2",
		Message: &model.Message{
			ID: "m1", ConversationID: "c2", SenderID: "bob", Content: "hey",
		},
	}
	fire(t, conn, "private-user-alice", broker.EventNewMessage, env)

	convs := c.Store().Conversations()
	assert.Equal(t, "c2", convs[0].Conversation.ID)
	assert.Equal(t, 1, convs[0].UnreadCount)

	// One's own send echoes on the personal channel without counting unread.
	own := broker.MessageEnvelope{
		ConversationID: "c2",
		Message:        &model.Message{ID: "m2", ConversationID: "c2", SenderID: "alice"},
	}
	fire(t, conn, "private-user-alice", broker.EventNewMessage, own)
	assert.Equal(t, 1, c.Store().Conversations()[0].UnreadCount)
}

func TestDeletedAndReadEvents(t *testing.T) {
	c, conn := connectedClient(t)
	require.NoError(t, c.OpenConversation("c1"))

	m := model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hello"}
	fire(t, conn, "private-conversation-c1", broker.EventNewMessage, m)

	readAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	fire(t, conn, "private-conversation-c1", broker.EventMessageRead, broker.MessageReadPayload{
		MessageID: "m1", ConversationID: "c1", UserID: "bob", ReadAt: readAt,
	})
	fire(t, conn, "private-conversation-c1", broker.EventMessageDeleted, broker.MessageDeletedPayload{
		MessageID: "m1", ConversationID: "c1",
	})

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, model.DeletedPlaceholder, msgs[0].Content)
	require.Len(t, msgs[0].ReadBy, 1)
	assert.Equal(t, "bob", msgs[0].ReadBy[0].UserID)
}

func TestTypingEventsIgnoreOwnEcho(t *testing.T) {
	c, conn := connectedClient(t)
	require.NoError(t, c.OpenConversation("c1"))

	fire(t, conn, "private-conversation-c1", broker.EventTypingStart, broker.TypingPayload{UserID: "alice", UserName: "Alice"})
	assert.Empty(t, c.Typing().Typing("c1"))

	fire(t, conn, "private-conversation-c1", broker.EventTypingStart, broker.TypingPayload{UserID: "bob", UserName: "Bob"})
	require.Len(t, c.Typing().Typing("c1"), 1)

	fire(t, conn, "private-conversation-c1", broker.EventTypingStop, broker.TypingPayload{UserID: "bob", UserName: "Bob"})
	assert.Empty(t, c.Typing().Typing("c1"))
}

func TestPresenceEventsOnGlobalChannel(t *testing.T) {
	c, conn := connectedClient(t)

	fire(t, conn, "presence-global", eventSubscriptionSucceeded, map[string]any{
		"members": []broker.MemberData{member("alice", "Alice"), member("bob", "Bob")},
	})
	assert.Equal(t, 2, c.GlobalPresence().Count())

	fire(t, conn, "presence-global", eventMemberAdded, member("carol", "Carol"))
	assert.True(t, c.GlobalPresence().Online("carol"))

	fire(t, conn, "presence-global", eventMemberRemoved, member("bob", "Bob"))
	assert.False(t, c.GlobalPresence().Online("bob"))
}
