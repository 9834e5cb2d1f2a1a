// Package local is the in-process dev broker: one WebSocket hub standing in
// for the managed pub/sub service when no credentials are configured. Same
// channel semantics, same auth signature format, at-most-once delivery.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/chatrelay/internal/broker"
)

// Broker implements the publish/authorize contract against the local Hub.
type Broker struct {
	hub    *Hub
	key    string
	secret string
}

func NewBroker(hub *Hub, key, secret string) *Broker {
	return &Broker{hub: hub, key: key, secret: secret}
}

func (b *Broker) Trigger(ctx context.Context, ch broker.Channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("local trigger %s %s: %w", ch.Name(), event, err)
	}
	b.hub.Broadcast(ch.Name(), event, data)
	return nil
}

type authResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// AuthorizeChannel signs a grant the hub later verifies on subscribe. The
// signature covers socket id, channel name and, for presence channels, the
// member data.
func (b *Broker) AuthorizeChannel(socketID string, ch broker.Channel, member *broker.MemberData) ([]byte, error) {
	resp := authResponse{}
	payload := socketID + ":" + ch.Name()
	if ch.IsPresence() {
		if member == nil {
			return nil, fmt.Errorf("local authorize %s: presence channel without member data", ch.Name())
		}
		data, err := json.Marshal(member)
		if err != nil {
			return nil, fmt.Errorf("local authorize %s: %w", ch.Name(), err)
		}
		resp.ChannelData = string(data)
		payload += ":" + resp.ChannelData
	}
	resp.Auth = b.key + ":" + sign(b.secret, payload)

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("local authorize %s: %w", ch.Name(), err)
	}
	return out, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, payload, signature string) bool {
	return hmac.Equal([]byte(sign(secret, payload)), []byte(signature))
}
