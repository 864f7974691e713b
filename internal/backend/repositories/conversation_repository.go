package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chatsync/internal/backend/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository defines interactions for conversation threads.
type ConversationRepository interface {
	CreateOrGet(ctx context.Context, actorID, counterpartID string) (models.Conversation, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, actorID string) ([]models.Conversation, error)
}

// ConversationRepo is a sqlx-backed repository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGet returns the existing thread between the two users or
// creates one.
func (r *ConversationRepo) CreateOrGet(ctx context.Context, actorID, counterpartID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user_a_id, user_b_id, created_at FROM conversations
        WHERE (user_a_id=$1 AND user_b_id=$2) OR (user_a_id=$2 AND user_b_id=$1)`, actorID, counterpartID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	err = r.db.QueryRowxContext(ctx, `INSERT INTO conversations (id, user_a_id, user_b_id) VALUES ($1, $2, $3)
        RETURNING id, user_a_id, user_b_id, created_at`, uuid.NewString(), actorID, counterpartID).
		Scan(&conv.ID, &conv.UserAID, &conv.UserBID, &conv.CreatedAt)
	return conv, err
}

// Get retrieves a single conversation.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user_a_id, user_b_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListForUser returns the threads the actor participates in.
func (r *ConversationRepo) ListForUser(ctx context.Context, actorID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT id, user_a_id, user_b_id, created_at FROM conversations
        WHERE user_a_id=$1 OR user_b_id=$1 ORDER BY created_at ASC`, actorID)
	return convs, err
}
