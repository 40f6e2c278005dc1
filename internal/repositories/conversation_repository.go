package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"conversation-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetConversation(ctx context.Context, customerID, businessID string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGetConversation creates the customer-business conversation if it
// does not already exist and returns it either way.
func (r *ConversationRepo) CreateOrGetConversation(ctx context.Context, customerID, businessID string) (models.Conversation, error) {
	if customerID == businessID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}

	var conv models.Conversation
	query := `SELECT id, customer_id, business_id, created_at FROM conversations WHERE customer_id=$1 AND business_id=$2`
	err := r.db.GetContext(ctx, &conv, query, customerID, businessID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, customer_id, business_id) VALUES ($1, $2, $3)
         RETURNING id, customer_id, business_id, created_at`,
		uuid.NewString(), customerID, businessID).
		Scan(&conv.ID, &conv.CustomerID, &conv.BusinessID, &conv.CreatedAt)
	return conv, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, customer_id, business_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (customer_id=$2 OR business_id=$2))`,
		conversationID, userID)
	return exists, err
}
