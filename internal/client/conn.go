package client

// Conn is the transport the client runs on: the managed service's client
// connection or the dev broker WebSocket.
type Conn interface {
	// Subscribe attaches to a channel, driving the auth callback when the
	// channel requires it. Subscribing twice to the same name returns the
	// same Subscription.
	Subscribe(channel string) (Subscription, error)
	// Unsubscribe detaches from the channel and releases its bindings.
	Unsubscribe(channel string)
}

// Subscription is one live channel attachment.
type Subscription interface {
	// Bind registers a handler for one event on this channel. The raw
	// payload is the event's JSON data.
	Bind(event string, fn func(data []byte))
}
