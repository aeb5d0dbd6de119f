package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/parley/internal/domain"
	"go.uber.org/zap"
)

type ChatsUseCase interface {
	// CreatePrivate returns the chat between user and friendUsername,
	// creating it if needed. created reports whether a new chat was made.
	CreatePrivate(ctx context.Context, user *domain.User, friendUsername string) (chat *domain.Chat, created bool, err error)
	List(ctx context.Context, userID domain.UserID) ([]domain.Chat, error)
	History(ctx context.Context, userID domain.UserID, chatID domain.ChatID) ([]domain.Message, error)
}

type chatsUseCase struct {
	repository domain.Store
	logger     *zap.SugaredLogger
}

func NewChatsUseCase(repository domain.Store, logger *zap.SugaredLogger) ChatsUseCase {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &chatsUseCase{
		repository: repository,
		logger:     logger,
	}
}

func (uc *chatsUseCase) CreatePrivate(ctx context.Context, user *domain.User, friendUsername string) (*domain.Chat, bool, error) {
	friend, err := uc.repository.GetUserByUsername(ctx, friendUsername)
	if err != nil {
		return nil, false, err
	}

	if friend.ID == user.ID {
		return nil, false, domain.ErrSelfReference
	}

	isFriend, err := uc.repository.IsFriend(ctx, user.ID, friend.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check friendship: %w", err)
	}
	if !isFriend {
		return nil, false, domain.ErrNotFriends
	}

	existing, err := uc.repository.FindPrivateChat(ctx, user.ID, friend.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrChatNotFound) {
		return nil, false, fmt.Errorf("failed to look up chat: %w", err)
	}

	chat, err := domain.NewPrivateChat(user, friend)
	if err != nil {
		return nil, false, err
	}

	err = uc.repository.CreateChat(ctx, chat)
	if errors.Is(err, domain.ErrChatExists) {
		// Another request created the pair first.
		existing, err := uc.repository.FindPrivateChat(ctx, user.ID, friend.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up chat: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		uc.logger.Errorw("failed to create chat", "userId", user.ID, "friendId", friend.ID, "error", err)
		return nil, false, fmt.Errorf("failed to create chat: %w", err)
	}

	uc.logger.Infow("private chat created", "chatId", chat.ID, "userId", user.ID, "friendId", friend.ID)
	return chat, true, nil
}

func (uc *chatsUseCase) List(ctx context.Context, userID domain.UserID) ([]domain.Chat, error) {
	chats, err := uc.repository.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// History returns the chat's messages oldest first. Unknown chats fail
// before the participation check.
func (uc *chatsUseCase) History(ctx context.Context, userID domain.UserID, chatID domain.ChatID) ([]domain.Message, error) {
	if _, err := uc.repository.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	ok, err := uc.repository.IsParticipant(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotParticipant
	}

	messages, err := uc.repository.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}
