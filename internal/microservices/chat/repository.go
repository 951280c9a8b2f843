package chat

import (
	"context"

	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// Conversation returns the newest messages exchanged between a and b.
	Conversation(ctx context.Context, a, b string, limit int) ([]Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) Conversation(ctx context.Context, a, b string, limit int) ([]Message, error) {
	var messages []Message
	err := r.db.WithContext(ctx).
		Where("(from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)", a, b, b, a).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
