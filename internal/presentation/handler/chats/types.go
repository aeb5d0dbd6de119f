package chats

import (
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/samber/lo"
)

type userBasicResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type createChatResponse struct {
	ChatID  int64  `json:"chat_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	ID           int64               `json:"id"`
	Name         string              `json:"name"`
	IsPrivate    bool                `json:"is_private"`
	Participants []userBasicResponse `json:"participants"`
}

type messageResponse struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toChatResponse(c domain.Chat, _ int) chatResponse {
	return chatResponse{
		ID:        int64(c.ID),
		Name:      c.Name,
		IsPrivate: c.IsPrivate,
		Participants: lo.Map(c.Participants, func(u domain.User, _ int) userBasicResponse {
			return userBasicResponse{ID: int64(u.ID), Username: u.Username}
		}),
	}
}

func toMessageResponse(m domain.Message, _ int) messageResponse {
	return messageResponse{
		ID:        int64(m.ID),
		ChatID:    int64(m.ChatID),
		SenderID:  int64(m.SenderID),
		Sender:    m.SenderName,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}
