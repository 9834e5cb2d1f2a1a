// Package fanout turns completed mutations into broker events. Publishing is
// best effort: the database write already succeeded, so a failed trigger is
// logged and swallowed, never surfaced to the request.
package fanout

import (
	"context"
	"time"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

const publishTimeout = 5 * time.Second

// ParticipantLister resolves the current member set of a conversation at
// publish time.
type ParticipantLister interface {
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}

// Notifier receives new-message fanout for out-of-band delivery (Web Push).
// Optional; nil disables it.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *model.Message, recipientIDs []string)
}

type Publisher struct {
	broker       broker.Broker
	participants ParticipantLister
	notifier     Notifier
}

func NewPublisher(b broker.Broker, participants ParticipantLister, notifier Notifier) *Publisher {
	return &Publisher{broker: b, participants: participants, notifier: notifier}
}

// MessageCreated publishes the full message on the conversation channel and a
// conversation-tagged envelope on the personal channel of every other
// participant. Callers run this in a goroutine after the insert commits; the
// context is detached from the request on purpose.
func (p *Publisher) MessageCreated(msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	p.trigger(ctx, broker.Conversation(msg.ConversationID), broker.EventNewMessage, msg)

	ids, err := p.participants.ParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		logger.Errorf("fanout: participants for %s: %v", msg.ConversationID, err)
		return
	}
	// Envelopes go to every participant but the sender, whose own view is
	// already reconciled from the request response.
	recipients := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	envelope := broker.MessageEnvelope{ConversationID: msg.ConversationID, Message: msg}
	for _, id := range recipients {
		p.trigger(ctx, broker.User(id), broker.EventNewMessage, envelope)
	}

	if p.notifier != nil {
		p.notifier.NotifyNewMessage(ctx, msg, recipients)
	}
}

// MessageUpdated publishes the updated message on the conversation channel
// only: viewers patch in place, nobody's unread count moves.
func (p *Publisher) MessageUpdated(msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	p.trigger(ctx, broker.Conversation(msg.ConversationID), broker.EventMessageUpdated, msg)
}

// MessageDeleted publishes the tombstone on the conversation channel only.
func (p *Publisher) MessageDeleted(conversationID, messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	p.trigger(ctx, broker.Conversation(conversationID), broker.EventMessageDeleted,
		broker.MessageDeletedPayload{MessageID: messageID, ConversationID: conversationID})
}

// MessageRead publishes the receipt on the conversation channel.
func (p *Publisher) MessageRead(conversationID, messageID, userID string, readAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	p.trigger(ctx, broker.Conversation(conversationID), broker.EventMessageRead,
		broker.MessageReadPayload{MessageID: messageID, ConversationID: conversationID, UserID: userID, ReadAt: readAt})
}

// Typing relays a typing-start or typing-stop signal. Never persisted.
func (p *Publisher) Typing(conversationID, event string, payload broker.TypingPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	p.trigger(ctx, broker.Conversation(conversationID), event, payload)
}

func (p *Publisher) trigger(ctx context.Context, ch broker.Channel, event string, payload any) {
	if err := p.broker.Trigger(ctx, ch, event, payload); err != nil {
		logger.Errorf("fanout: %s on %s: %v", event, ch.Name(), err)
	}
}
