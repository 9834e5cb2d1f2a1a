package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, name, is_group, created_at, updated_at)
		 VALUES ($1, NULLIF($2,''), $3, $4, $5)`,
		c.ID, c.Name, c.IsGroup, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(name,''), is_group, created_at, updated_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	participants, err := r.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

// FindDirect returns the 1:1 conversation between two users, if any.
func (r *ConversationRepository) FindDirect(ctx context.Context, userID1, userID2 string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT c.id FROM conversations c
		 WHERE c.is_group = false
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $2)
		   AND (SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = c.id) = 2`,
		userID1, userID2,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.FindDirect: %w", err)
	}
	return r.GetByID(ctx, id)
}

// ListForUser returns the user's conversations with participants loaded,
// ordered by updated_at descending.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, COALESCE(c.name,''), c.is_group, c.created_at, c.updated_at
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}

	for i := range convs {
		participants, err := r.Participants(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Participants = participants
	}
	return convs, nil
}

// Participants returns membership records with user projections attached.
func (r *ConversationRepository) Participants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("conv.Participants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT cp.conversation_id, cp.user_id, cp.joined_at, cp.last_read_at,
		        u.id, u.name, COALESCE(u.avatar_url,'')
		 FROM conversation_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.conversation_id = $1
		 ORDER BY cp.joined_at`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.Participants query: %w", err)
	}
	defer rows.Close()

	participants := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		user := &model.ChatUser{}
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadAt,
			&user.ID, &user.Name, &user.AvatarURL); err != nil {
			return nil, fmt.Errorf("convRepo.Participants scan: %w", err)
		}
		p.User = user
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.Participants rows: %w", err)
	}
	return participants, nil
}

func (r *ConversationRepository) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("conv.AddParticipant", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, joined_at, last_read_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		p.ConversationID, p.UserID, p.JoinedAt, p.LastReadAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.AddParticipant: %w", err)
	}
	return nil
}

// RemoveParticipant removes the membership record and deletes the
// conversation when it was the last one. Returns whether the conversation
// was deleted.
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID string) (deleted bool, err error) {
	defer logger.DeferLogDuration("conv.RemoveParticipant", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.RemoveParticipant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrNotFound
	}

	var remaining int
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = $1`, conversationID,
	).Scan(&remaining)
	if err != nil {
		return false, fmt.Errorf("convRepo.RemoveParticipant count: %w", err)
	}
	if remaining > 0 {
		return false, nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return false, fmt.Errorf("convRepo.RemoveParticipant cascade: %w", err)
	}
	return true, nil
}

// Touch bumps the conversation's updated_at watermark.
func (r *ConversationRepository) Touch(ctx context.Context, conversationID string, t time.Time) error {
	defer logger.DeferLogDuration("conv.Touch", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, t, conversationID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Touch: %w", err)
	}
	return nil
}

// BumpLastRead updates the participant's read watermark. Not broadcast:
// peers learn read state from explicit receipts or their own next fetch.
func (r *ConversationRepository) BumpLastRead(ctx context.Context, conversationID, userID string, t time.Time) error {
	defer logger.DeferLogDuration("conv.BumpLastRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET last_read_at = $1 WHERE conversation_id = $2 AND user_id = $3`,
		t, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.BumpLastRead: %w", err)
	}
	return nil
}

// UnreadCount counts messages from other senders created after the viewer's
// last_read_at.
func (r *ConversationRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("conv.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = $2
		 WHERE m.conversation_id = $1 AND m.sender_id != $2 AND m.created_at > cp.last_read_at AND m.is_deleted = false`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("convRepo.UnreadCount: %w", err)
	}
	return count, nil
}
