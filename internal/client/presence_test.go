package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatrelay/internal/broker"
)

func member(id, name string) broker.MemberData {
	return broker.MemberData{ID: id, Info: broker.MemberInfo{ID: id, Name: name}}
}

func TestPresenceTrackerRoster(t *testing.T) {
	p := NewPresenceTracker()

	p.SetMembers([]broker.MemberData{member("alice", "Alice"), member("bob", "Bob")})
	assert.Equal(t, 2, p.Count())
	assert.True(t, p.Online("alice"))
	assert.False(t, p.Online("carol"))

	p.MemberAdded(member("carol", "Carol"))
	assert.Equal(t, 3, p.Count())

	// Re-adding refreshes instead of duplicating.
	p.MemberAdded(member("carol", "Caroline"))
	assert.Equal(t, 3, p.Count())

	p.MemberRemoved("alice")
	assert.False(t, p.Online("alice"))

	// Removing an absent member is a no-op.
	p.MemberRemoved("alice")
	assert.Equal(t, 2, p.Count())
}

func TestPresenceTrackerSnapshotReplaces(t *testing.T) {
	p := NewPresenceTracker()
	p.MemberAdded(member("stale", "Stale"))

	p.SetMembers([]broker.MemberData{member("alice", "Alice")})
	assert.False(t, p.Online("stale"))
	assert.True(t, p.Online("alice"))
}

func TestPresenceTrackerClear(t *testing.T) {
	p := NewPresenceTracker()
	p.SetMembers([]broker.MemberData{member("alice", "Alice")})

	p.Clear()
	assert.Equal(t, 0, p.Count())
	assert.Empty(t, p.Members())
}
