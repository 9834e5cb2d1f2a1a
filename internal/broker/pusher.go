package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	pusher "github.com/pusher/pusher-http-go/v5"
)

// PusherBroker is the production Broker backed by a Pusher-compatible
// managed service.
type PusherBroker struct {
	client pusher.Client
}

func NewPusherBroker(appID, key, secret, cluster string) *PusherBroker {
	return &PusherBroker{
		client: pusher.Client{
			AppID:      appID,
			Key:        key,
			Secret:     secret,
			Cluster:    cluster,
			Secure:     true,
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
		},
	}
}

// Trigger publishes one event. The underlying client owns the HTTP timeout,
// so ctx is consulted only for early cancellation.
func (b *PusherBroker) Trigger(ctx context.Context, ch Channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.Trigger(ch.Name(), event, payload); err != nil {
		return fmt.Errorf("pusher trigger %s %s: %w", ch.Name(), event, err)
	}
	return nil
}

func (b *PusherBroker) AuthorizeChannel(socketID string, ch Channel, member *MemberData) ([]byte, error) {
	params := url.Values{}
	params.Set("socket_id", socketID)
	params.Set("channel_name", ch.Name())
	raw := []byte(params.Encode())

	if ch.IsPresence() {
		if member == nil {
			return nil, fmt.Errorf("pusher authorize %s: presence channel without member data", ch.Name())
		}
		info := map[string]string{"id": member.Info.ID, "name": member.Info.Name}
		if member.Info.Image != "" {
			info["image"] = member.Info.Image
		}
		resp, err := b.client.AuthorizePresenceChannel(raw, pusher.MemberData{
			UserID:   member.ID,
			UserInfo: info,
		})
		if err != nil {
			return nil, fmt.Errorf("pusher authorize %s: %w", ch.Name(), err)
		}
		return resp, nil
	}

	resp, err := b.client.AuthorizePrivateChannel(raw)
	if err != nil {
		return nil, fmt.Errorf("pusher authorize %s: %w", ch.Name(), err)
	}
	return resp, nil
}
