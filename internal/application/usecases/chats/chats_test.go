package chats

import (
	"context"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/persistence/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	uc    ChatsUseCase
	store *repository.BadgerStore
	users map[string]*domain.User
}

// setup registers alice, bob and carol; alice has bob as a friend.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	store, err := repository.NewBadgerStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	users := map[string]*domain.User{}
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := domain.NewUser(name, name+"@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, store.CreateUser(ctx, u))
		users[name] = u
	}
	require.NoError(t, store.AddFriend(ctx, users["alice"].ID, users["bob"].ID))

	return &fixture{uc: NewChatsUseCase(store, nil), store: store, users: users}
}

func TestCreatePrivate_ReturnsExistingChat(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := setup(t)

	chat, created, err := f.uc.CreatePrivate(ctx, f.users["alice"], "bob")
	req.NoError(err)
	req.True(created)
	req.Equal("alice - bob", chat.Name)
	req.True(chat.IsPrivate)
	req.ElementsMatch([]domain.UserID{f.users["alice"].ID, f.users["bob"].ID}, chat.ParticipantIDs())

	again, created, err := f.uc.CreatePrivate(ctx, f.users["alice"], "bob")
	req.NoError(err)
	req.False(created)
	req.Equal(chat.ID, again.ID)

	chats, err := f.uc.List(ctx, f.users["bob"].ID)
	req.NoError(err)
	req.Len(chats, 1)
}

func TestCreatePrivate_ConcurrentCallsShareOneChat(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := setup(t)

	const n = 10
	ids := make([]domain.ChatID, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			chat, isNew, err := f.uc.CreatePrivate(ctx, f.users["alice"], "bob")
			if assert.NoError(t, err) {
				ids[i] = chat.ID
				created[i] = isNew
			}
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := range ids {
		req.Equal(ids[0], ids[i])
		if created[i] {
			newCount++
		}
	}
	req.Equal(1, newCount)

	chats, err := f.uc.List(ctx, f.users["alice"].ID)
	req.NoError(err)
	req.Len(chats, 1)
}

func TestCreatePrivate_Rejects(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, _, err := f.uc.CreatePrivate(ctx, f.users["alice"], "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, _, err = f.uc.CreatePrivate(ctx, f.users["alice"], "alice")
	assert.ErrorIs(t, err, domain.ErrSelfReference)

	_, _, err = f.uc.CreatePrivate(ctx, f.users["alice"], "carol")
	assert.ErrorIs(t, err, domain.ErrNotFriends)

	// bob never added alice back
	_, _, err = f.uc.CreatePrivate(ctx, f.users["bob"], "alice")
	assert.ErrorIs(t, err, domain.ErrNotFriends)
}

func TestHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := setup(t)

	chat, _, err := f.uc.CreatePrivate(ctx, f.users["alice"], "bob")
	req.NoError(err)

	for _, content := range []string{"first", "second"} {
		_, err := f.store.CreateMessage(ctx, f.users["alice"].ID, chat.ID, content)
		req.NoError(err)
	}

	history, err := f.uc.History(ctx, f.users["bob"].ID, chat.ID)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("first", history[0].Content)
	req.Equal("second", history[1].Content)

	_, err = f.uc.History(ctx, f.users["carol"].ID, chat.ID)
	req.ErrorIs(err, domain.ErrNotParticipant)

	_, err = f.uc.History(ctx, f.users["carol"].ID, 9999)
	req.ErrorIs(err, domain.ErrChatNotFound, "unknown chat is reported before membership")
}
