package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chatsync/pkg/wire"
)

var ErrEmptyMessage = errors.New("message has no content or attachment")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID, content, imageURL string) (wire.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]wire.Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the server-assigned row.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID, content, imageURL string) (wire.Message, error) {
	if content == "" && imageURL == "" {
		return wire.Message{}, ErrEmptyMessage
	}

	var msg wire.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, image_url)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, conversation_id, sender_id, content, image_url, is_read, created_at`,
		uuid.NewString(), conversationID, senderID, content, imageURL).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.ImageURL, &msg.IsRead, &msg.CreatedAt)
	return msg, err
}

// ListMessages returns the newest messages of a conversation in ascending
// createdAt order.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]wire.Message, error) {
	query := `SELECT id, conversation_id, sender_id, content, image_url, is_read, created_at FROM (
            SELECT * FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2
        ) page ORDER BY created_at ASC`
	var msgs []wire.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit)
	return msgs, err
}

// MarkRead flags the given messages as read.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE messages SET is_read = TRUE WHERE conversation_id = ? AND id IN (?)`, conversationID, messageIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}
