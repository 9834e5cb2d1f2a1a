package client

import (
	"encoding/json"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// ChatClient wires one user's live view together: the personal channel feeds
// the conversation list, the active conversation's channel feeds the message
// window, presence and typing.
type ChatClient struct {
	userID string
	store  *Store
	subs   *SubscriptionManager
	typing *TypingTracker

	// global roster plus the active conversation's roster.
	globalPresence *PresenceTracker
	convPresence   *PresenceTracker
}

func NewChatClient(userID string, conn Conn) *ChatClient {
	return &ChatClient{
		userID:         userID,
		store:          NewStore(),
		subs:           NewSubscriptionManager(conn),
		typing:         NewTypingTracker(),
		globalPresence: NewPresenceTracker(),
		convPresence:   NewPresenceTracker(),
	}
}

func (c *ChatClient) Store() *Store                    { return c.store }
func (c *ChatClient) Typing() *TypingTracker           { return c.typing }
func (c *ChatClient) GlobalPresence() *PresenceTracker { return c.globalPresence }
func (c *ChatClient) ConvPresence() *PresenceTracker   { return c.convPresence }

// Connect subscribes the always-on channels: the personal channel and the
// global presence roster.
func (c *ChatClient) Connect() error {
	personal, err := c.subs.Claim(broker.User(c.userID).Name())
	if err != nil {
		return err
	}
	personal.Bind(broker.EventNewMessage, c.onPersonalNewMessage)

	global, err := c.subs.Claim(broker.GlobalPresence().Name())
	if err != nil {
		return err
	}
	bindPresence(global, c.globalPresence)
	return nil
}

// OpenConversation switches the active conversation: the previous channels
// are released, the window is cleared, unread resets and the new channels
// attach. Opening the empty id just closes the current one.
func (c *ChatClient) OpenConversation(conversationID string) error {
	prev := c.store.ActiveConversation()
	if prev == conversationID {
		return nil
	}
	if prev != "" {
		c.subs.Release(broker.Conversation(prev).Name())
		c.subs.Release(broker.PresenceConversation(prev).Name())
		c.convPresence.Clear()
	}
	c.store.SetActiveConversation(conversationID)
	if conversationID == "" {
		return nil
	}
	c.store.ResetUnread(conversationID)

	sub, err := c.subs.Claim(broker.Conversation(conversationID).Name())
	if err != nil {
		return err
	}
	sub.Bind(broker.EventNewMessage, c.onNewMessage)
	sub.Bind(broker.EventMessageUpdated, c.onMessageUpdated)
	sub.Bind(broker.EventMessageDeleted, c.onMessageDeleted)
	sub.Bind(broker.EventMessageRead, c.onMessageRead)
	sub.Bind(broker.EventTypingStart, c.onTypingStart)
	sub.Bind(broker.EventTypingStop, c.onTypingStop)

	presence, err := c.subs.Claim(broker.PresenceConversation(conversationID).Name())
	if err != nil {
		return err
	}
	bindPresence(presence, c.convPresence)
	return nil
}

func bindPresence(sub Subscription, tracker *PresenceTracker) {
	sub.Bind(eventSubscriptionSucceeded, func(data []byte) {
		var snapshot struct {
			Members []broker.MemberData `json:"members"`
		}
		if err := json.Unmarshal(data, &snapshot); err != nil {
			logger.Errorf("client: presence snapshot: %v", err)
			return
		}
		tracker.SetMembers(snapshot.Members)
	})
	sub.Bind(eventMemberAdded, func(data []byte) {
		var m broker.MemberData
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Errorf("client: member added: %v", err)
			return
		}
		tracker.MemberAdded(m)
	})
	sub.Bind(eventMemberRemoved, func(data []byte) {
		var m broker.MemberData
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Errorf("client: member removed: %v", err)
			return
		}
		tracker.MemberRemoved(m.ID)
	})
}

// Presence membership event names as the broker client surfaces them.
const (
	eventSubscriptionSucceeded = "subscription_succeeded"
	eventMemberAdded           = "member_added"
	eventMemberRemoved         = "member_removed"
)

// onPersonalNewMessage handles the envelope on the personal channel: it
// drives the conversation list regardless of what is open.
func (c *ChatClient) onPersonalNewMessage(data []byte) {
	var env broker.MessageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Errorf("client: personal new-message: %v", err)
		return
	}
	c.store.ApplyLastMessage(env.ConversationID, env.Message)
	if env.Message != nil && env.Message.SenderID != c.userID {
		c.store.IncrementUnread(env.ConversationID)
	}
}

func (c *ChatClient) onNewMessage(data []byte) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Errorf("client: new-message: %v", err)
		return
	}
	c.store.AddMessage(msg)
	// A message from someone means their typing indicator is stale.
	c.typing.Stop(msg.ConversationID, msg.SenderID)
}

func (c *ChatClient) onMessageUpdated(data []byte) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Errorf("client: message-updated: %v", err)
		return
	}
	c.store.UpdateMessage(msg)
}

func (c *ChatClient) onMessageDeleted(data []byte) {
	var payload broker.MessageDeletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Errorf("client: message-deleted: %v", err)
		return
	}
	c.store.ApplyDeleted(payload.MessageID)
}

func (c *ChatClient) onMessageRead(data []byte) {
	var payload broker.MessageReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Errorf("client: message-read: %v", err)
		return
	}
	c.store.ApplyRead(model.MessageRead{
		MessageID: payload.MessageID,
		UserID:    payload.UserID,
		ReadAt:    payload.ReadAt,
	})
}

func (c *ChatClient) onTypingStart(data []byte) {
	var payload broker.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Errorf("client: typing-start: %v", err)
		return
	}
	// One's own echo is not an indicator.
	if payload.UserID == c.userID {
		return
	}
	c.typing.Start(c.store.ActiveConversation(), payload.UserID, payload.UserName)
}

func (c *ChatClient) onTypingStop(data []byte) {
	var payload broker.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Errorf("client: typing-stop: %v", err)
		return
	}
	c.typing.Stop(c.store.ActiveConversation(), payload.UserID)
}
