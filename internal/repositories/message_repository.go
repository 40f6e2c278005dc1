package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"conversation-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID, content string, messageType models.MessageType) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]string, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with a fresh server-assigned id and
// initial status "sent".
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID, content string, messageType models.MessageType) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, message_type, status)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, conversation_id, sender_id, content, message_type, status, edited, created_at, updated_at`,
		uuid.NewString(), conversationID, senderID, content, messageType, models.MessageStatusSent).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &msg.Status, &msg.Edited, &msg.CreatedAt, &msg.UpdatedAt)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, conversation_id, sender_id, content, message_type, status, edited, created_at, updated_at
         FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkMessagesRead upgrades the given messages to "read" and returns the
// ids that actually changed. Messages already read are left untouched so
// the status never moves backwards, and receipts are not re-broadcast for
// them.
func (r *MessageRepo) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryxContext(ctx,
		`UPDATE messages SET status=$1, updated_at=NOW()
         WHERE conversation_id=$2 AND id = ANY($3) AND status <> $1
         RETURNING id`,
		models.MessageStatusRead, conversationID, pq.Array(messageIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updated []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}
