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

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.type,
	        COALESCE(m.attachment_url,''), COALESCE(m.attachment_type,''),
	        m.is_edited, m.is_deleted, m.created_at, m.updated_at,
	        u.id, u.name, COALESCE(u.avatar_url,'')`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	sender := &model.ChatUser{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
		&m.AttachmentURL, &m.AttachmentType,
		&m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt,
		&sender.ID, &sender.Name, &sender.AvatarURL)
	if err != nil {
		return nil, err
	}
	m.Sender = sender
	m.ReadBy = []model.MessageRead{}
	return m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, attachment_url, attachment_type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), $8, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.AttachmentURL, m.AttachmentType, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	reads, err := r.ReadsForMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	m.ReadBy = reads
	return m, nil
}

// List returns one history page: up to limit non-deleted messages strictly
// older than the cursor message (exclusive; empty cursor means newest). The
// overfetch of limit+1 rows detects further pages; the result is reversed to
// chronological order.
func (r *MessageRepository) List(ctx context.Context, conversationID, cursor string, limit int) (*model.MessagePage, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1 AND m.is_deleted = false
		   AND ($2 = '' OR (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2))
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $3`, conversationID, cursor, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.List query: %w", err)
	}
	defer rows.Close()

	newestFirst := make([]model.Message, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.List scan: %w", err)
		}
		newestFirst = append(newestFirst, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.List rows: %w", err)
	}

	page := shapePage(newestFirst, limit)
	for i := range page.Messages {
		reads, err := r.ReadsForMessage(ctx, page.Messages[i].ID)
		if err != nil {
			return nil, err
		}
		page.Messages[i].ReadBy = reads
	}
	return &page, nil
}

// shapePage turns a newest-first overfetch (up to limit+1 rows) into the
// chronological page contract: HasMore iff more than limit rows came back,
// NextCursor is the oldest returned id.
func shapePage(newestFirst []model.Message, limit int) model.MessagePage {
	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}
	nextCursor := ""
	if hasMore && len(newestFirst) > 0 {
		nextCursor = newestFirst[len(newestFirst)-1].ID
	}
	chronological := make([]model.Message, len(newestFirst))
	for i := range newestFirst {
		chronological[len(newestFirst)-1-i] = newestFirst[i]
	}
	return model.MessagePage{Messages: chronological, NextCursor: nextCursor, HasMore: hasMore}
}

func (r *MessageRepository) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.LastMessage", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1 AND m.is_deleted = false
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT 1`, conversationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.LastMessage: %w", err)
	}
	return m, nil
}

// UpdateContent edits a message: sets is_edited and bumps updated_at,
// created_at is never touched. The deleted guard is part of the statement so
// a concurrent soft-delete cannot be overwritten; ErrConflict reports a
// tombstoned row.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string, t time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, is_edited = true, updated_at = $2 WHERE id = $3 AND is_deleted = false`,
		content, t, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SoftDelete keeps the row but replaces content with the fixed placeholder.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, t time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, content = $1, updated_at = $2 WHERE id = $3`,
		model.DeletedPlaceholder, t, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// UpsertRead records a read receipt; re-marking only refreshes read_at.
func (r *MessageRepository) UpsertRead(ctx context.Context, messageID, userID string, readAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpsertRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at`,
		messageID, userID, readAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpsertRead: %w", err)
	}
	return nil
}

func (r *MessageRepository) ReadsForMessage(ctx context.Context, messageID string) ([]model.MessageRead, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT mr.message_id, mr.user_id, u.name, mr.read_at
		 FROM message_reads mr
		 JOIN users u ON u.id = mr.user_id
		 WHERE mr.message_id = $1
		 ORDER BY mr.read_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ReadsForMessage query: %w", err)
	}
	defer rows.Close()

	reads := []model.MessageRead{}
	for rows.Next() {
		var mr model.MessageRead
		if err := rows.Scan(&mr.MessageID, &mr.UserID, &mr.UserName, &mr.ReadAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ReadsForMessage scan: %w", err)
		}
		reads = append(reads, mr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ReadsForMessage rows: %w", err)
	}
	return reads, nil
}
