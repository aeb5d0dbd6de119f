package domain

import "time"

type MessageID int64

// Message is immutable once persisted. ID and CreatedAt are assigned by the
// store.
type Message struct {
	ID         MessageID `json:"id"`
	ChatID     ChatID    `json:"chatId"`
	SenderID   UserID    `json:"senderId"`
	SenderName string    `json:"sender"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
