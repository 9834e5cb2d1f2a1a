package local

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/logger"
)

type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
	// members tracks presence channel membership: channel -> socket id -> data.
	members map[string]map[string]broker.MemberData

	total    int
	maxConns int
	key      string
	secret   string

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, key, secret string) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		channels:   make(map[string]map[*Client]struct{}),
		members:    make(map[string]map[string]broker.MemberData),
		maxConns:   maxConns,
		key:        key,
		secret:     secret,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) shutdown() {
	// Collect clients under the lock, close outside it: closing does network
	// I/O.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	h.members = make(map[string]map[string]broker.MemberData)
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("local broker: connection limit reached (%d), rejecting socket=%s", h.maxConns, c.socketID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.total--
	removed := h.dropSubscriptionsLocked(c)
	h.mu.Unlock()

	c.Close()

	for _, r := range removed {
		h.notifyMemberRemoved(r.channel, r.member)
	}
}

type removedMember struct {
	channel string
	member  broker.MemberData
}

// dropSubscriptionsLocked detaches c from every channel and returns the
// presence departures to announce. Caller holds the lock.
func (h *Hub) dropSubscriptionsLocked(c *Client) []removedMember {
	var removed []removedMember
	for name := range c.subscriptions {
		if clients, ok := h.channels[name]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.channels, name)
			}
		}
		if members, ok := h.members[name]; ok {
			if m, exists := members[c.socketID]; exists {
				delete(members, c.socketID)
				if len(members) == 0 {
					delete(h.members, name)
				}
				removed = append(removed, removedMember{channel: name, member: m})
			}
		}
	}
	c.subscriptions = make(map[string]struct{})
	return removed
}

// HandleFrame dispatches one control frame from a client.
func (h *Hub) HandleFrame(c *Client, frame IncomingFrame) {
	switch frame.Event {
	case eventSubscribe:
		h.handleSubscribe(c, frame)
	case eventUnsubscribe:
		h.handleUnsubscribe(c, frame.Channel)
	default:
		c.sendError("unknown event")
	}
}

// handleSubscribe verifies the auth signature issued by AuthorizeChannel and
// attaches the client to the channel. Presence channels additionally announce
// the member and return the current roster.
func (h *Hub) handleSubscribe(c *Client, frame IncomingFrame) {
	ch, err := broker.ParseChannel(frame.Channel)
	if err != nil {
		c.sendError("unknown channel")
		return
	}

	payload := c.socketID + ":" + frame.Channel
	if ch.IsPresence() {
		payload += ":" + frame.ChannelData
	}
	keyPart, sigPart, ok := strings.Cut(frame.Auth, ":")
	if !ok || keyPart != h.key || !verify(h.secret, payload, sigPart) {
		c.sendError("invalid auth for " + frame.Channel)
		return
	}

	var member *broker.MemberData
	if ch.IsPresence() {
		var m broker.MemberData
		if err := json.Unmarshal([]byte(frame.ChannelData), &m); err != nil || m.ID == "" {
			c.sendError("invalid channel_data for " + frame.Channel)
			return
		}
		member = &m
	}

	h.mu.Lock()
	if _, ok := h.channels[frame.Channel]; !ok {
		h.channels[frame.Channel] = make(map[*Client]struct{})
	}
	h.channels[frame.Channel][c] = struct{}{}
	c.subscriptions[frame.Channel] = struct{}{}

	var roster []broker.MemberData
	if member != nil {
		if _, ok := h.members[frame.Channel]; !ok {
			h.members[frame.Channel] = make(map[string]broker.MemberData)
		}
		h.members[frame.Channel][c.socketID] = *member
		roster = make([]broker.MemberData, 0, len(h.members[frame.Channel]))
		for _, m := range h.members[frame.Channel] {
			roster = append(roster, m)
		}
	}
	h.mu.Unlock()

	if member != nil {
		data, err := json.Marshal(member)
		if err == nil {
			h.broadcastExcept(frame.Channel, eventMemberAdded, data, c)
		}
		rosterData, err := json.Marshal(map[string]any{"members": roster})
		if err != nil {
			logger.Errorf("local broker: marshal roster for %s: %v", frame.Channel, err)
			return
		}
		c.enqueue(OutgoingFrame{Event: eventSubscriptionSucceeded, Channel: frame.Channel, Data: rosterData})
		return
	}
	c.enqueue(OutgoingFrame{Event: eventSubscriptionSucceeded, Channel: frame.Channel})
}

func (h *Hub) handleUnsubscribe(c *Client, channel string) {
	h.mu.Lock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.subscriptions, channel)
	var departed *broker.MemberData
	if members, ok := h.members[channel]; ok {
		if m, exists := members[c.socketID]; exists {
			delete(members, c.socketID)
			if len(members) == 0 {
				delete(h.members, channel)
			}
			departed = &m
		}
	}
	h.mu.Unlock()

	if departed != nil {
		h.notifyMemberRemoved(channel, *departed)
	}
}

func (h *Hub) notifyMemberRemoved(channel string, member broker.MemberData) {
	data, err := json.Marshal(member)
	if err != nil {
		return
	}
	h.Broadcast(channel, eventMemberRemoved, data)
}

// Broadcast delivers one event to every subscriber of channel. Slow
// consumers with a full send buffer are dropped, matching the at-most-once
// contract.
func (h *Hub) Broadcast(channel, event string, data json.RawMessage) {
	h.broadcastExcept(channel, event, data, nil)
}

func (h *Hub) broadcastExcept(channel, event string, data json.RawMessage, skip *Client) {
	frame := OutgoingFrame{Event: event, Channel: channel, Data: data}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			logger.Errorf("local broker: send buffer full, dropping socket=%s", c.socketID)
			h.Unregister(c)
		}
	}
}
