// Package push delivers Web Push notifications for messages that arrive while
// the recipient has no live broker connection.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

// previewLimit bounds the notification body, in bytes.
const previewLimit = 120

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Notifier sends Web Push directly via the push services (FCM, Mozilla,
// etc.). Delivery is best effort; a dead subscription is pruned on 404/410.
type Notifier struct {
	repo       *repository.PushRepository
	keys       *VAPIDKeys
	subscriber string
}

// NewNotifier creates the notifier. subscriber is the VAPID contact
// (mailto: or https: URL) push services may use to reach the operator.
func NewNotifier(repo *repository.PushRepository, keys *VAPIDKeys, subscriber string) *Notifier {
	return &Notifier{repo: repo, keys: keys, subscriber: subscriber}
}

type notificationPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NotifyNewMessage pushes a preview of msg to every subscription of the
// recipients. Called from fanout after the broker publish.
func (n *Notifier) NotifyNewMessage(ctx context.Context, msg *model.Message, recipientIDs []string) {
	if len(recipientIDs) == 0 {
		return
	}
	subs, err := n.repo.ListForUsers(ctx, recipientIDs)
	if err != nil {
		logger.Errorf("push: list subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	title := "New message"
	if msg.Sender != nil && msg.Sender.Name != "" {
		title = msg.Sender.Name
	}
	body := truncate(msg.Content, previewLimit)
	payload, err := json.Marshal(notificationPayload{
		Title: title,
		Body:  body,
		Data:  map[string]string{"conversation_id": msg.ConversationID, "message_id": msg.ID},
	})
	if err != nil {
		logger.Errorf("push: marshal payload: %v", err)
		return
	}

	for i := range subs {
		n.send(ctx, &subs[i], payload)
	}
}

func (n *Notifier) send(ctx context.Context, sub *model.PushSubscription, payload []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}
	resp, err := webpush.SendNotification(payload, s, &webpush.Options{
		Subscriber:      n.subscriber,
		VAPIDPublicKey:  n.keys.PublicKey,
		VAPIDPrivateKey: n.keys.PrivateKey,
		TTL:             int((24 * time.Hour).Seconds()),
	})
	if err != nil {
		logger.Errorf("push: send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// The push service says the subscription no longer exists.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := n.repo.Delete(ctx, sub.Endpoint); err != nil {
			logger.Errorf("push: prune %s: %v", sub.Endpoint, err)
		}
		return
	}
	if resp.StatusCode >= 400 {
		logger.Errorf("push: send to %s: status %d", sub.Endpoint, resp.StatusCode)
	}
}
