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

// Sentinel errors mapped to HTTP statuses by the handlers.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, COALESCE(avatar_url,''), created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetChatUser returns the public projection used in events and presence
// grants.
func (r *UserRepository) GetChatUser(ctx context.Context, id string) (*model.ChatUser, error) {
	defer logger.DeferLogDuration("user.GetChatUser", time.Now())()
	u := &model.ChatUser{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(avatar_url,'') FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetChatUser: %w", err)
	}
	return u, nil
}

// SearchByName finds users by case-insensitive name/email substring,
// excluding the searcher.
func (r *UserRepository) SearchByName(ctx context.Context, selfID, query string, limit int) ([]model.ChatUser, error) {
	defer logger.DeferLogDuration("user.SearchByName", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, COALESCE(avatar_url,'')
		 FROM users
		 WHERE id != $1 AND (name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		 ORDER BY name
		 LIMIT $3`, selfID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.SearchByName query: %w", err)
	}
	defer rows.Close()

	users := make([]model.ChatUser, 0, limit)
	for rows.Next() {
		var u model.ChatUser
		if err := rows.Scan(&u.ID, &u.Name, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("userRepo.SearchByName scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.SearchByName rows: %w", err)
	}
	return users, nil
}
