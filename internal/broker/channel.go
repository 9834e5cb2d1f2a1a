package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ChannelKind tags the four channel classes the sync engine uses. Channel
// names are parsed exactly once at the boundary; everything past that works
// with the tagged value.
type ChannelKind int

const (
	// KindGlobalPresence is the app-wide online roster channel.
	KindGlobalPresence ChannelKind = iota
	// KindConversation carries message/typing/read events of one conversation.
	KindConversation
	// KindUser is a personal notification channel.
	KindUser
	// KindPresenceConversation carries in-conversation presence membership.
	KindPresenceConversation
)

const (
	globalPresenceName     = "presence-global"
	conversationPrefix     = "private-conversation-"
	userPrefix             = "private-user-"
	presenceConversationPx = "presence-conversation-"
)

var ErrUnknownChannel = errors.New("unknown channel type")

// Channel identifies one broker channel. ID is the conversation or user id;
// empty for the global presence channel.
type Channel struct {
	Kind ChannelKind
	ID   string
}

func GlobalPresence() Channel        { return Channel{Kind: KindGlobalPresence} }
func Conversation(id string) Channel { return Channel{Kind: KindConversation, ID: id} }
func User(id string) Channel         { return Channel{Kind: KindUser, ID: id} }

func PresenceConversation(id string) Channel {
	return Channel{Kind: KindPresenceConversation, ID: id}
}

// Name renders the wire channel name.
func (c Channel) Name() string {
	switch c.Kind {
	case KindGlobalPresence:
		return globalPresenceName
	case KindConversation:
		return conversationPrefix + c.ID
	case KindUser:
		return userPrefix + c.ID
	case KindPresenceConversation:
		return presenceConversationPx + c.ID
	}
	return ""
}

// IsPresence reports whether subscribers of this channel are advertised to
// each other as members.
func (c Channel) IsPresence() bool {
	return c.Kind == KindGlobalPresence || c.Kind == KindPresenceConversation
}

// ParseChannel maps a wire channel name to its tagged form. Unknown names
// fail: authorization rejects what it cannot classify.
func ParseChannel(name string) (Channel, error) {
	switch {
	case name == globalPresenceName:
		return GlobalPresence(), nil
	case strings.HasPrefix(name, conversationPrefix):
		id := name[len(conversationPrefix):]
		if id == "" {
			return Channel{}, fmt.Errorf("parse channel %q: empty id", name)
		}
		return Conversation(id), nil
	case strings.HasPrefix(name, userPrefix):
		id := name[len(userPrefix):]
		if id == "" {
			return Channel{}, fmt.Errorf("parse channel %q: empty id", name)
		}
		return User(id), nil
	case strings.HasPrefix(name, presenceConversationPx):
		id := name[len(presenceConversationPx):]
		if id == "" {
			return Channel{}, fmt.Errorf("parse channel %q: empty id", name)
		}
		return PresenceConversation(id), nil
	}
	return Channel{}, ErrUnknownChannel
}
