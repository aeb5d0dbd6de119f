package ws

import (
	"time"

	"github.com/hilthontt/parley/internal/domain"
)

// MessageEvent is the outward form of a persisted message. Fields are
// flat so clients can read sender, content and timestamp directly.
type MessageEvent struct {
	V         int    `json:"v"`
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat"`
	SenderID  int64  `json:"sender_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	V       int    `json:"v"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry,omitempty"`
}

func NewMessageEvent(msg *domain.Message, sender string) MessageEvent {
	return MessageEvent{
		V:         ProtocolVersion,
		Type:      MessageCreated,
		ID:        int64(msg.ID),
		ChatID:    int64(msg.ChatID),
		SenderID:  int64(msg.SenderID),
		Sender:    sender,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NewError(code, message string, retry bool) ErrorPayload {
	return ErrorPayload{
		V:       ProtocolVersion,
		Type:    ErrorEvent,
		Code:    code,
		Message: message,
		Retry:   retry,
	}
}
