// Package client is the embeddable client-side state layer: it reconciles
// broker events and fetch results into a consistent view of conversations,
// one message window, presence and typing. Events may arrive at-most-once
// and out of order; every operation here is safe to apply twice.
package client

import (
	"sort"
	"sync"

	"github.com/chatrelay/internal/model"
)

// Store holds the conversation list and the message window of the active
// conversation. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	conversations []model.ConversationPreview
	convIndex     map[string]int

	// activeID is the conversation whose messages are materialized; the
	// window is cleared on every switch.
	activeID string
	messages []model.Message
	msgIndex map[string]int

	// nextCursor/hasMore describe the older end of the window.
	nextCursor string
	hasMore    bool
}

func NewStore() *Store {
	return &Store{
		convIndex: make(map[string]int),
		msgIndex:  make(map[string]int),
	}
}

// SetActiveConversation switches the message window. Switching clears the
// window and its cursor; the caller fetches the first page afterwards.
// Setting the already-active id is a no-op that keeps the window.
func (s *Store) SetActiveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == conversationID {
		return
	}
	s.activeID = conversationID
	s.messages = nil
	s.msgIndex = make(map[string]int)
	s.nextCursor = ""
	s.hasMore = false
}

func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetMessages replaces the window with the first fetched page.
func (s *Store) SetMessages(page model.MessagePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]model.Message, len(page.Messages))
	copy(s.messages, page.Messages)
	s.msgIndex = make(map[string]int, len(s.messages))
	s.reindexLocked(0)
	s.nextCursor = page.NextCursor
	s.hasMore = page.HasMore
}

// AddMessage inserts one message into the window at its ordered position
// (created_at ascending, id as tie-break). Duplicates by id are ignored, so
// an echo of one's own send and the broker event coexist. Messages for other
// conversations are ignored.
func (s *Store) AddMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ConversationID != s.activeID {
		return
	}
	if _, ok := s.msgIndex[msg.ID]; ok {
		return
	}
	pos := sort.Search(len(s.messages), func(i int) bool {
		return msg.OrderBefore(&s.messages[i])
	})
	s.messages = append(s.messages, model.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	s.reindexLocked(pos)
}

// PrependMessages applies one older history page to the front of the window,
// skipping ids already present, and advances the pagination cursor.
func (s *Store) PrependMessages(page model.MessagePage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]model.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if _, ok := s.msgIndex[m.ID]; ok {
			continue
		}
		fresh = append(fresh, m)
	}
	s.messages = append(fresh, s.messages...)
	s.reindexLocked(0)
	s.nextCursor = page.NextCursor
	s.hasMore = page.HasMore
}

// UpdateMessage replaces the stored message in place. Unknown ids are
// ignored: an update for a message outside the window has nothing to patch.
func (s *Store) UpdateMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.msgIndex[msg.ID]
	if !ok {
		return
	}
	s.messages[i] = msg
}

// ApplyDeleted turns the message into its tombstone form.
func (s *Store) ApplyDeleted(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.msgIndex[messageID]
	if !ok {
		return
	}
	s.messages[i].IsDeleted = true
	s.messages[i].Content = model.DeletedPlaceholder
}

// ApplyRead merges one read receipt into the message. A repeated receipt for
// the same reader only refreshes the timestamp.
func (s *Store) ApplyRead(read model.MessageRead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.msgIndex[read.MessageID]
	if !ok {
		return
	}
	for j := range s.messages[i].ReadBy {
		if s.messages[i].ReadBy[j].UserID == read.UserID {
			s.messages[i].ReadBy[j].ReadAt = read.ReadAt
			return
		}
	}
	s.messages[i].ReadBy = append(s.messages[i].ReadBy, read)
}

// Messages returns a copy of the window in chronological order.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// NextPage returns the cursor state of the older end of the window.
func (s *Store) NextPage() (cursor string, hasMore bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCursor, s.hasMore
}

func (s *Store) reindexLocked(from int) {
	for i := from; i < len(s.messages); i++ {
		s.msgIndex[s.messages[i].ID] = i
	}
}

// --- conversation list ---

// SetConversations replaces the list wholesale (initial fetch).
func (s *Store) SetConversations(previews []model.ConversationPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make([]model.ConversationPreview, len(previews))
	copy(s.conversations, previews)
	s.reindexConvsLocked()
}

// AddConversation puts a new conversation at the front. Adding a known id
// moves it to the front instead of duplicating.
func (s *Store) AddConversation(preview model.ConversationPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.convIndex[preview.Conversation.ID]; ok {
		s.conversations[i] = preview
		s.moveToFrontLocked(i)
		return
	}
	s.conversations = append([]model.ConversationPreview{preview}, s.conversations...)
	s.reindexConvsLocked()
}

func (s *Store) RemoveConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.convIndex[conversationID]
	if !ok {
		return
	}
	s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	delete(s.convIndex, conversationID)
	s.reindexConvsLocked()
}

// ApplyLastMessage records a new last message for the conversation and moves
// it to the front of the list. Unknown conversations are ignored; the caller
// fetches those explicitly.
func (s *Store) ApplyLastMessage(conversationID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.convIndex[conversationID]
	if !ok {
		return
	}
	s.conversations[i].LastMessage = msg
	if msg != nil && msg.UpdatedAt.After(s.conversations[i].Conversation.UpdatedAt) {
		s.conversations[i].Conversation.UpdatedAt = msg.UpdatedAt
	}
	s.moveToFrontLocked(i)
}

// UpdateConversation merges the non-zero fields of patch into the stored
// conversation.
func (s *Store) UpdateConversation(patch model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.convIndex[patch.ID]
	if !ok {
		return
	}
	c := &s.conversations[i].Conversation
	if patch.Name != "" {
		c.Name = patch.Name
	}
	if len(patch.Participants) > 0 {
		c.Participants = patch.Participants
	}
	if patch.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = patch.UpdatedAt
	}
}

// IncrementUnread bumps the unread counter, except for the conversation the
// user is looking at.
func (s *Store) IncrementUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID == s.activeID {
		return
	}
	if i, ok := s.convIndex[conversationID]; ok {
		s.conversations[i].UnreadCount++
	}
}

func (s *Store) ResetUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.convIndex[conversationID]; ok {
		s.conversations[i].UnreadCount = 0
	}
}

// Conversations returns a copy of the list in display order.
func (s *Store) Conversations() []model.ConversationPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationPreview, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *Store) moveToFrontLocked(i int) {
	if i == 0 {
		return
	}
	moved := s.conversations[i]
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = moved
	s.reindexConvsLocked()
}

func (s *Store) reindexConvsLocked() {
	s.convIndex = make(map[string]int, len(s.conversations))
	for i := range s.conversations {
		s.convIndex[s.conversations[i].Conversation.ID] = i
	}
}
