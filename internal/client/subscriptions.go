package client

import "sync"

// SubscriptionManager ref-counts channel subscriptions so independent parts
// of the UI can claim the same channel without double-subscribing, and the
// transport-level unsubscribe only happens when the last claim is released.
type SubscriptionManager struct {
	mu     sync.Mutex
	conn   Conn
	counts map[string]int
	subs   map[string]Subscription
}

func NewSubscriptionManager(conn Conn) *SubscriptionManager {
	return &SubscriptionManager{
		conn:   conn,
		counts: make(map[string]int),
		subs:   make(map[string]Subscription),
	}
}

// Claim takes one reference on the channel, subscribing on the first claim.
func (m *SubscriptionManager) Claim(channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[channel]; ok {
		m.counts[channel]++
		return sub, nil
	}
	sub, err := m.conn.Subscribe(channel)
	if err != nil {
		return nil, err
	}
	m.subs[channel] = sub
	m.counts[channel] = 1
	return sub, nil
}

// Release drops one reference; the last release unsubscribes. Releasing an
// unclaimed channel is a no-op.
func (m *SubscriptionManager) Release(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, ok := m.counts[channel]
	if !ok {
		return
	}
	count--
	if count > 0 {
		m.counts[channel] = count
		return
	}
	delete(m.counts, channel)
	delete(m.subs, channel)
	m.conn.Unsubscribe(channel)
}

// Active reports whether the channel currently holds at least one claim.
func (m *SubscriptionManager) Active(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[channel] > 0
}
