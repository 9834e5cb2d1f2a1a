package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

type fakeParticipants struct {
	members map[string]map[string]bool
	err     error
}

func (f *fakeParticipants) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[conversationID][userID], nil
}

type fakeProfiles struct {
	users map[string]model.ChatUser
}

func (f *fakeProfiles) GetChatUser(_ context.Context, userID string) (*model.ChatUser, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("no such user")
	}
	return &u, nil
}

func newTestAuthorizer() *Authorizer {
	return NewAuthorizer(
		&fakeParticipants{members: map[string]map[string]bool{
			"c1": {"alice": true, "bob": true},
		}},
		&fakeProfiles{users: map[string]model.ChatUser{
			"alice": {ID: "alice", Name: "Alice", AvatarURL: "https://cdn/a.png"},
			"bob":   {ID: "bob", Name: "Bob"},
			"eve":   {ID: "eve", Name: "Eve"},
		}},
	)
}

func TestAuthorizeGlobalPresence(t *testing.T) {
	a := newTestAuthorizer()

	grant, err := a.Authorize(context.Background(), "alice", GlobalPresence())
	require.NoError(t, err)
	require.NotNil(t, grant.Member)
	assert.Equal(t, "alice", grant.Member.ID)
	assert.Equal(t, "Alice", grant.Member.Info.Name)
	assert.Equal(t, "https://cdn/a.png", grant.Member.Info.Image)

	_, err = a.Authorize(context.Background(), "", GlobalPresence())
	assert.ErrorIs(t, err, ErrChannelForbidden)
}

func TestAuthorizeUserChannel(t *testing.T) {
	a := newTestAuthorizer()

	grant, err := a.Authorize(context.Background(), "alice", User("alice"))
	require.NoError(t, err)
	assert.Nil(t, grant.Member)

	_, err = a.Authorize(context.Background(), "eve", User("alice"))
	assert.ErrorIs(t, err, ErrChannelForbidden)
}

func TestAuthorizeConversation(t *testing.T) {
	a := newTestAuthorizer()

	t.Run("participant allowed", func(t *testing.T) {
		grant, err := a.Authorize(context.Background(), "bob", Conversation("c1"))
		require.NoError(t, err)
		assert.Nil(t, grant.Member)
	})

	t.Run("non-participant and missing conversation look alike", func(t *testing.T) {
		_, errOutsider := a.Authorize(context.Background(), "eve", Conversation("c1"))
		_, errMissing := a.Authorize(context.Background(), "eve", Conversation("nope"))
		assert.ErrorIs(t, errOutsider, ErrChannelForbidden)
		assert.ErrorIs(t, errMissing, ErrChannelForbidden)
	})

	t.Run("presence variant carries member data", func(t *testing.T) {
		grant, err := a.Authorize(context.Background(), "bob", PresenceConversation("c1"))
		require.NoError(t, err)
		require.NotNil(t, grant.Member)
		assert.Equal(t, "bob", grant.Member.Info.ID)
	})

	t.Run("lookup errors are not grants", func(t *testing.T) {
		broken := NewAuthorizer(&fakeParticipants{err: errors.New("db down")}, &fakeProfiles{})
		_, err := broken.Authorize(context.Background(), "alice", Conversation("c1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrChannelForbidden)
	})
}
