package client

import (
	"sync"

	"github.com/chatrelay/internal/broker"
)

// PresenceTracker mirrors the member roster of one presence channel. The
// broker owns membership truth; this only replays its announcements.
type PresenceTracker struct {
	mu      sync.RWMutex
	members map[string]broker.MemberInfo
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{members: make(map[string]broker.MemberInfo)}
}

// SetMembers replaces the roster with the subscription-succeeded snapshot.
func (p *PresenceTracker) SetMembers(members []broker.MemberData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = make(map[string]broker.MemberInfo, len(members))
	for _, m := range members {
		p.members[m.ID] = m.Info
	}
}

// MemberAdded applies a member-added announcement. Re-adding a known member
// refreshes their info.
func (p *PresenceTracker) MemberAdded(m broker.MemberData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[m.ID] = m.Info
}

func (p *PresenceTracker) MemberRemoved(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, id)
}

// Clear drops the roster, for unsubscribe or disconnect: without a live
// subscription there is no presence truth to show.
func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = make(map[string]broker.MemberInfo)
}

func (p *PresenceTracker) Online(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.members[id]
	return ok
}

func (p *PresenceTracker) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Members returns a copy of the roster.
func (p *PresenceTracker) Members() []broker.MemberData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]broker.MemberData, 0, len(p.members))
	for id, info := range p.members {
		out = append(out, broker.MemberData{ID: id, Info: info})
	}
	return out
}
