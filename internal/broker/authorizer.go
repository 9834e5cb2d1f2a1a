package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatrelay/internal/model"
)

// ErrChannelForbidden is returned for every rejected grant. Non-participants
// and non-existent conversations are indistinguishable to the requester.
var ErrChannelForbidden = errors.New("not authorized for this channel")

// ParticipantChecker answers whether a user currently belongs to a
// conversation. Backed by the conversation repository on the server.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// ProfileSource resolves the requester's public profile for presence grants.
type ProfileSource interface {
	GetChatUser(ctx context.Context, userID string) (*model.ChatUser, error)
}

// Grant is a positive authorization decision. Member is set for presence
// channels only.
type Grant struct {
	Channel Channel
	Member  *MemberData
}

// Authorizer gates every subscribe request. Rules:
//   - global presence: any authenticated requester;
//   - conversation and presence-conversation: current participants only;
//   - user channel: the embedded identity only.
// Everything else fails closed.
type Authorizer struct {
	participants ParticipantChecker
	profiles     ProfileSource
}

func NewAuthorizer(participants ParticipantChecker, profiles ProfileSource) *Authorizer {
	return &Authorizer{participants: participants, profiles: profiles}
}

// Authorize decides a subscribe request for requesterID on ch.
func (a *Authorizer) Authorize(ctx context.Context, requesterID string, ch Channel) (*Grant, error) {
	if requesterID == "" {
		return nil, ErrChannelForbidden
	}
	switch ch.Kind {
	case KindGlobalPresence:
		member, err := a.presenceMember(ctx, requesterID)
		if err != nil {
			return nil, err
		}
		return &Grant{Channel: ch, Member: member}, nil
	case KindUser:
		if ch.ID != requesterID {
			return nil, ErrChannelForbidden
		}
		return &Grant{Channel: ch}, nil
	case KindConversation, KindPresenceConversation:
		ok, err := a.participants.IsParticipant(ctx, ch.ID, requesterID)
		if err != nil {
			return nil, fmt.Errorf("authorize %s: %w", ch.Name(), err)
		}
		if !ok {
			return nil, ErrChannelForbidden
		}
		if ch.Kind == KindPresenceConversation {
			member, err := a.presenceMember(ctx, requesterID)
			if err != nil {
				return nil, err
			}
			return &Grant{Channel: ch, Member: member}, nil
		}
		return &Grant{Channel: ch}, nil
	}
	return nil, ErrChannelForbidden
}

func (a *Authorizer) presenceMember(ctx context.Context, userID string) (*MemberData, error) {
	u, err := a.profiles.GetChatUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authorize presence member %s: %w", userID, err)
	}
	member := MemberFromChatUser(*u)
	return &member, nil
}
