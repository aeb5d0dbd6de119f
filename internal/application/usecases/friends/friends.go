package friends

import (
	"context"
	"fmt"

	"github.com/hilthontt/parley/internal/domain"
	"go.uber.org/zap"
)

type FriendsUseCase interface {
	Add(ctx context.Context, user *domain.User, friendUsername string) (*domain.User, error)
	List(ctx context.Context, userID domain.UserID) ([]domain.User, error)
}

type Repository interface {
	domain.UserRepository
	domain.FriendRepository
}

type friendsUseCase struct {
	repository Repository
	logger     *zap.SugaredLogger
}

func NewFriendsUseCase(repository Repository, logger *zap.SugaredLogger) FriendsUseCase {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &friendsUseCase{
		repository: repository,
		logger:     logger,
	}
}

// Add records friendUsername as a friend of user. The relation is one-way.
func (uc *friendsUseCase) Add(ctx context.Context, user *domain.User, friendUsername string) (*domain.User, error) {
	friend, err := uc.repository.GetUserByUsername(ctx, friendUsername)
	if err != nil {
		return nil, err
	}

	if friend.ID == user.ID {
		return nil, domain.ErrSelfReference
	}

	if err := uc.repository.AddFriend(ctx, user.ID, friend.ID); err != nil {
		return nil, err
	}

	uc.logger.Infow("friend added", "userId", user.ID, "friendId", friend.ID)
	return friend, nil
}

func (uc *friendsUseCase) List(ctx context.Context, userID domain.UserID) ([]domain.User, error) {
	friends, err := uc.repository.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	return friends, nil
}
