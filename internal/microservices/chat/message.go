package chat

import "time"

// Message is one direct message between two users.
type Message struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FromUserID   string    `gorm:"not null;index:idx_chat_messages_pair" json:"from_user_id"`
	FromUserName string    `gorm:"not null" json:"from_user_name"`
	ToUserID     string    `gorm:"not null;index:idx_chat_messages_pair" json:"to_user_id"`
	Body         string    `gorm:"not null" json:"body"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Message) TableName() string {
	return "chat_messages"
}
