package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/broker"
	"github.com/chatrelay/internal/fanout"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

type fakeConvStore struct {
	member    bool
	memberErr error
	conv      *model.Conversation
}

func (f *fakeConvStore) Create(context.Context, *model.Conversation) error { return nil }

func (f *fakeConvStore) GetByID(context.Context, string) (*model.Conversation, error) {
	if f.conv == nil {
		return nil, repository.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeConvStore) FindDirect(context.Context, string, string) (*model.Conversation, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeConvStore) ListForUser(context.Context, string) ([]model.Conversation, error) {
	return nil, nil
}

func (f *fakeConvStore) IsParticipant(context.Context, string, string) (bool, error) {
	return f.member, f.memberErr
}

func (f *fakeConvStore) AddParticipant(context.Context, *model.Participant) error { return nil }

func (f *fakeConvStore) RemoveParticipant(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeConvStore) Touch(context.Context, string, time.Time) error { return nil }

func (f *fakeConvStore) BumpLastRead(context.Context, string, string, time.Time) error { return nil }

func (f *fakeConvStore) UnreadCount(context.Context, string, string) (int, error) { return 0, nil }

type fakeMsgStore struct {
	msg       *model.Message
	updateErr error
}

func (f *fakeMsgStore) Create(context.Context, *model.Message) error { return nil }

func (f *fakeMsgStore) GetByID(context.Context, string) (*model.Message, error) {
	if f.msg == nil {
		return nil, repository.ErrNotFound
	}
	return f.msg, nil
}

func (f *fakeMsgStore) List(context.Context, string, string, int) (*model.MessagePage, error) {
	return &model.MessagePage{Messages: []model.Message{}}, nil
}

func (f *fakeMsgStore) LastMessage(context.Context, string) (*model.Message, error) {
	return nil, nil
}

func (f *fakeMsgStore) UpdateContent(context.Context, string, string, time.Time) error {
	return f.updateErr
}

func (f *fakeMsgStore) SoftDelete(context.Context, string, time.Time) error { return nil }

func (f *fakeMsgStore) UpsertRead(context.Context, string, string, time.Time) error { return nil }

type fakeUserStore struct{}

func (fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Name: "Alice"}, nil
}

func (fakeUserStore) GetChatUser(_ context.Context, id string) (*model.ChatUser, error) {
	return &model.ChatUser{ID: id, Name: "Alice"}, nil
}

func (fakeUserStore) SearchByName(context.Context, string, string, int) ([]model.ChatUser, error) {
	return nil, nil
}

type recordingBroker struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroker) Trigger(_ context.Context, ch broker.Channel, event string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ch.Name()+":"+event)
	return nil
}

func (b *recordingBroker) AuthorizeChannel(string, broker.Channel, *broker.MemberData) ([]byte, error) {
	return nil, nil
}

func (b *recordingBroker) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	copy(out, b.events)
	return out
}

type stubParticipants struct{}

func (stubParticipants) ParticipantIDs(context.Context, string) ([]string, error) {
	return []string{}, nil
}

func testPublisher(b broker.Broker) *fanout.Publisher {
	return fanout.NewPublisher(b, stubParticipants{}, nil)
}

// newRequest builds a request carrying the authenticated user and chi URL
// params.
func newRequest(method, target, body, userID string, params map[string]string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

// Non-participants must not be able to tell an existing conversation from a
// missing one: every conversation-scoped endpoint answers 404.

func TestSendMessageHidesForeignConversations(t *testing.T) {
	h := NewMessageHandler(&fakeMsgStore{}, &fakeConvStore{member: false}, testPublisher(&recordingBroker{}))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/api/conversations/c1/messages", `{"content":"hi"}`, "mallory",
		map[string]string{"conversationId": "c1"})
	h.SendMessage(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesHidesForeignConversations(t *testing.T) {
	h := NewMessageHandler(&fakeMsgStore{}, &fakeConvStore{member: false}, testPublisher(&recordingBroker{}))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/api/conversations/c1/messages", "", "mallory",
		map[string]string{"conversationId": "c1"})
	h.ListMessages(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationHidesForeignConversations(t *testing.T) {
	conv := &model.Conversation{ID: "c1"}
	h := NewConversationHandler(&fakeConvStore{member: false, conv: conv}, &fakeMsgStore{}, fakeUserStore{})

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/api/conversations/c1", "", "mallory",
		map[string]string{"conversationId": "c1"})
	h.GetConversation(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTypingHidesForeignConversations(t *testing.T) {
	h := NewTypingHandler(&fakeConvStore{member: false}, fakeUserStore{}, testPublisher(&recordingBroker{}))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/api/conversations/c1/typing", `{"is_typing":true}`, "mallory",
		map[string]string{"conversationId": "c1"})
	h.Typing(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditMessageConflictsWithConcurrentDelete(t *testing.T) {
	// The loaded message looks editable, but the update hits a row soft-deleted
	// in between.
	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	h := NewMessageHandler(&fakeMsgStore{msg: msg, updateErr: repository.ErrConflict},
		&fakeConvStore{member: true}, testPublisher(&recordingBroker{}))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPatch, "/api/messages/m1", `{"content":"edited"}`, "alice",
		map[string]string{"messageId": "m1"})
	h.EditMessage(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkReadRebroadcastsExistingReceipt(t *testing.T) {
	rb := &recordingBroker{}
	msg := &model.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "bob",
		ReadBy:         []model.MessageRead{{MessageID: "m1", UserID: "alice"}},
	}
	h := NewMessageHandler(&fakeMsgStore{msg: msg}, &fakeConvStore{member: true}, testPublisher(rb))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/api/messages/m1/read", "", "alice",
		map[string]string{"messageId": "m1"})
	h.MarkRead(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// The receipt already existed; the event still goes out and viewers merge
	// it idempotently.
	require.Eventually(t, func() bool {
		return len(rb.recorded()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "private-conversation-c1:message-read", rb.recorded()[0])
}

func TestMarkReadOwnMessageIsSilent(t *testing.T) {
	rb := &recordingBroker{}
	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	h := NewMessageHandler(&fakeMsgStore{msg: msg}, &fakeConvStore{member: true}, testPublisher(rb))

	rec := httptest.NewRecorder()
	req := newRequest(http.MethodPost, "/api/messages/m1/read", "", "alice",
		map[string]string{"messageId": "m1"})
	h.MarkRead(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rb.recorded())
}
