package client

import (
	"sync"
	"time"
)

// typingTimeout is how long a typing indicator stays alive without a fresh
// start signal. Matches the stop debounce on the sending side.
const typingTimeout = 3 * time.Second

// TypingUser is one live typing indicator.
type TypingUser struct {
	UserID   string
	UserName string
}

// TypingTracker maintains who is typing in each conversation. Expiry is
// deadline-based and evaluated at read time, so a lost typing-stop event can
// delay an indicator by at most the timeout.
type TypingTracker struct {
	mu sync.Mutex
	// deadlines: conversation id -> user id -> expiry.
	deadlines map[string]map[string]typingEntry
	now       func() time.Time
}

type typingEntry struct {
	name     string
	deadline time.Time
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		deadlines: make(map[string]map[string]typingEntry),
		now:       time.Now,
	}
}

// Start records or refreshes a typing indicator.
func (t *TypingTracker) Start(conversationID, userID, userName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.deadlines[conversationID]; !ok {
		t.deadlines[conversationID] = make(map[string]typingEntry)
	}
	t.deadlines[conversationID][userID] = typingEntry{
		name:     userName,
		deadline: t.now().Add(typingTimeout),
	}
}

// Stop clears an indicator. Stopping one that never started is a no-op.
func (t *TypingTracker) Stop(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if users, ok := t.deadlines[conversationID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.deadlines, conversationID)
		}
	}
}

// Typing returns the live indicators for a conversation, pruning expired
// ones on the way.
func (t *TypingTracker) Typing(conversationID string) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.deadlines[conversationID]
	if !ok {
		return nil
	}
	now := t.now()
	out := make([]TypingUser, 0, len(users))
	for id, e := range users {
		if now.After(e.deadline) {
			delete(users, id)
			continue
		}
		out = append(out, TypingUser{UserID: id, UserName: e.name})
	}
	if len(users) == 0 {
		delete(t.deadlines, conversationID)
	}
	return out
}

// Signaler sends the typing signals upstream.
type Signaler interface {
	TypingStart(conversationID string)
	TypingStop(conversationID string)
}

// TypingEmitter debounces local keystrokes into start/stop signals: the
// first keystroke sends typing-start, and typing-stop follows once the keys
// go quiet for the timeout. Repeated keystrokes only push the deadline.
type TypingEmitter struct {
	mu       sync.Mutex
	signaler Signaler
	timers   map[string]*time.Timer
	// afterFunc is swapped in tests for a manual clock.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewTypingEmitter(signaler Signaler) *TypingEmitter {
	return &TypingEmitter{
		signaler:  signaler,
		timers:    make(map[string]*time.Timer),
		afterFunc: time.AfterFunc,
	}
}

// Keystroke registers local typing activity in a conversation.
func (e *TypingEmitter) Keystroke(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[conversationID]; ok {
		timer.Reset(typingTimeout)
		return
	}
	e.signaler.TypingStart(conversationID)
	e.timers[conversationID] = e.afterFunc(typingTimeout, func() {
		e.expire(conversationID)
	})
}

// Flush sends typing-stop immediately, for when the user sends the message
// or leaves the conversation.
func (e *TypingEmitter) Flush(conversationID string) {
	e.mu.Lock()
	timer, ok := e.timers[conversationID]
	if ok {
		timer.Stop()
		delete(e.timers, conversationID)
	}
	e.mu.Unlock()
	if ok {
		e.signaler.TypingStop(conversationID)
	}
}

func (e *TypingEmitter) expire(conversationID string) {
	e.mu.Lock()
	_, ok := e.timers[conversationID]
	if ok {
		delete(e.timers, conversationID)
	}
	e.mu.Unlock()
	if ok {
		e.signaler.TypingStop(conversationID)
	}
}
