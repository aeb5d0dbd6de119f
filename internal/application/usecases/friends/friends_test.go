package friends

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/persistence/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (FriendsUseCase, map[string]*domain.User) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	store, err := repository.NewBadgerStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	users := map[string]*domain.User{}
	for _, name := range []string{"alice", "bob"} {
		u, err := domain.NewUser(name, name+"@example.com", "hash")
		require.NoError(t, err)
		require.NoError(t, store.CreateUser(context.Background(), u))
		users[name] = u
	}
	return NewFriendsUseCase(store, nil), users
}

func TestAddAndList(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	uc, users := setup(t)

	friend, err := uc.Add(ctx, users["alice"], "bob")
	req.NoError(err)
	req.Equal(users["bob"].ID, friend.ID)

	list, err := uc.List(ctx, users["alice"].ID)
	req.NoError(err)
	req.Len(list, 1)
	req.Equal("bob", list[0].Username)

	list, err = uc.List(ctx, users["bob"].ID)
	req.NoError(err)
	req.Empty(list, "friendship is one-way")
}

func TestAdd_Rejects(t *testing.T) {
	ctx := context.Background()
	uc, users := setup(t)

	_, err := uc.Add(ctx, users["alice"], "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = uc.Add(ctx, users["alice"], "alice")
	assert.ErrorIs(t, err, domain.ErrSelfReference)

	_, err = uc.Add(ctx, users["alice"], "bob")
	require.NoError(t, err)
	_, err = uc.Add(ctx, users["alice"], "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyFriends)
}
