package local

import "encoding/json"

// Wire frames of the dev broker. The event names mirror the managed
// service's client protocol so the frontend code runs unchanged against
// either backend.
const (
	eventConnectionEstablished = "connection_established"
	eventSubscribe             = "subscribe"
	eventUnsubscribe           = "unsubscribe"
	eventSubscriptionSucceeded = "subscription_succeeded"
	eventMemberAdded           = "member_added"
	eventMemberRemoved         = "member_removed"
	eventError                 = "error"
)

// IncomingFrame is a client-to-broker control frame.
type IncomingFrame struct {
	Event       string `json:"event"`
	Channel     string `json:"channel,omitempty"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// OutgoingFrame is a broker-to-client frame: control events and published
// payloads share the shape.
type OutgoingFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
