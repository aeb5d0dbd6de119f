package ws

import (
	"context"

	"github.com/hilthontt/parley/internal/domain"
)

type storeMembership struct {
	store domain.Store
}

// NewStoreMembership exposes a storage driver as a MembershipStore.
func NewStoreMembership(store domain.Store) MembershipStore {
	return &storeMembership{store: store}
}

func (m *storeMembership) FindUser(ctx context.Context, username string) (*domain.User, error) {
	return m.store.GetUserByUsername(ctx, username)
}

func (m *storeMembership) FindChat(ctx context.Context, chatID domain.ChatID) (*domain.Chat, error) {
	return m.store.GetChat(ctx, chatID)
}

func (m *storeMembership) IsParticipant(ctx context.Context, userID domain.UserID, chatID domain.ChatID) (bool, error) {
	return m.store.IsParticipant(ctx, userID, chatID)
}

func (m *storeMembership) PersistMessage(ctx context.Context, senderID domain.UserID, chatID domain.ChatID, content string) (*domain.Message, error) {
	return m.store.CreateMessage(ctx, senderID, chatID, content)
}
