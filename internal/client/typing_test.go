package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingTrackerExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Start("c1", "bob", "Bob")
	require.Len(t, tr.Typing("c1"), 1)

	// A lost typing-stop only delays the indicator by the timeout.
	now = now.Add(typingTimeout + time.Second)
	assert.Empty(t, tr.Typing("c1"))
}

func TestTypingTrackerRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Start("c1", "bob", "Bob")
	now = now.Add(2 * time.Second)
	tr.Start("c1", "bob", "Bob")

	// Still alive past the original deadline.
	now = now.Add(2 * time.Second)
	require.Len(t, tr.Typing("c1"), 1)
	assert.Equal(t, "Bob", tr.Typing("c1")[0].UserName)
}

func TestTypingTrackerStop(t *testing.T) {
	tr := NewTypingTracker()
	tr.Start("c1", "bob", "Bob")
	tr.Start("c1", "carol", "Carol")

	tr.Stop("c1", "bob")
	users := tr.Typing("c1")
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].UserID)

	// Stopping an unknown indicator is a no-op.
	tr.Stop("c1", "nobody")
	tr.Stop("c9", "bob")
}

type recordingSignaler struct {
	starts []string
	stops  []string
}

func (r *recordingSignaler) TypingStart(conversationID string) { r.starts = append(r.starts, conversationID) }
func (r *recordingSignaler) TypingStop(conversationID string)  { r.stops = append(r.stops, conversationID) }

// manualTimers captures AfterFunc callbacks so tests fire them by hand.
type manualTimers struct {
	fns []func()
}

func (m *manualTimers) afterFunc(_ time.Duration, f func()) *time.Timer {
	m.fns = append(m.fns, f)
	// A real timer far in the future; tests trigger f directly.
	timer := time.AfterFunc(time.Hour, func() {})
	timer.Stop()
	return timer
}

func TestTypingEmitterDebounce(t *testing.T) {
	sig := &recordingSignaler{}
	timers := &manualTimers{}
	e := NewTypingEmitter(sig)
	e.afterFunc = timers.afterFunc

	// Repeated keystrokes produce exactly one start.
	e.Keystroke("c1")
	e.Keystroke("c1")
	e.Keystroke("c1")
	assert.Equal(t, []string{"c1"}, sig.starts)
	assert.Empty(t, sig.stops)

	// Quiet period elapses: one stop.
	require.Len(t, timers.fns, 1)
	timers.fns[0]()
	assert.Equal(t, []string{"c1"}, sig.stops)

	// Next keystroke starts a fresh cycle.
	e.Keystroke("c1")
	assert.Equal(t, []string{"c1", "c1"}, sig.starts)
}

func TestTypingEmitterFlush(t *testing.T) {
	sig := &recordingSignaler{}
	timers := &manualTimers{}
	e := NewTypingEmitter(sig)
	e.afterFunc = timers.afterFunc

	e.Keystroke("c1")
	e.Flush("c1")
	assert.Equal(t, []string{"c1"}, sig.stops)

	// Flushing with no pending indicator sends nothing.
	e.Flush("c1")
	assert.Equal(t, []string{"c1"}, sig.stops)

	// The stale timer firing later must not double-stop.
	for _, fn := range timers.fns {
		fn()
	}
	assert.Equal(t, []string{"c1"}, sig.stops)
}
