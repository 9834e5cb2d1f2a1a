package local

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/broker"
)

func TestAuthorizePrivateChannel(t *testing.T) {
	hub := NewHub(10, "k", "s")
	b := NewBroker(hub, "k", "s")

	raw, err := b.AuthorizeChannel("sock-1", broker.Conversation("c1"), nil)
	require.NoError(t, err)

	var resp authResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Empty(t, resp.ChannelData)
	assert.Equal(t, "k:"+sign("s", "sock-1:private-conversation-c1"), resp.Auth)
}

func TestAuthorizePresenceChannel(t *testing.T) {
	hub := NewHub(10, "k", "s")
	b := NewBroker(hub, "k", "s")

	m := broker.MemberData{ID: "alice", Info: broker.MemberInfo{ID: "alice", Name: "Alice"}}
	raw, err := b.AuthorizeChannel("sock-1", broker.GlobalPresence(), &m)
	require.NoError(t, err)

	var resp authResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotEmpty(t, resp.ChannelData)

	var decoded broker.MemberData
	require.NoError(t, json.Unmarshal([]byte(resp.ChannelData), &decoded))
	assert.Equal(t, "alice", decoded.ID)

	// The signature covers the member data.
	expected := "k:" + sign("s", "sock-1:presence-global:"+resp.ChannelData)
	assert.Equal(t, expected, resp.Auth)

	_, err = b.AuthorizeChannel("sock-1", broker.GlobalPresence(), nil)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	sig := sign("secret", "payload")
	assert.True(t, verify("secret", "payload", sig))
	assert.False(t, verify("secret", "payload2", sig))
	assert.False(t, verify("other", "payload", sig))
}

func TestTriggerRespectsContext(t *testing.T) {
	hub := NewHub(10, "k", "s")
	b := NewBroker(hub, "k", "s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Trigger(ctx, broker.Conversation("c1"), "new-message", map[string]string{"x": "y"})
	assert.ErrorIs(t, err, context.Canceled)

	// No subscribers: publish succeeds and the event is simply gone.
	err = b.Trigger(context.Background(), broker.Conversation("c1"), "new-message", map[string]string{"x": "y"})
	assert.NoError(t, err)
}
