package ws_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/infrastructure/ws/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	alice = domain.User{ID: 1, Username: "alice"}
	bob   = domain.User{ID: 2, Username: "bob"}
	carol = domain.User{ID: 3, Username: "carol"}
	chat7 = domain.Chat{ID: 7, Name: "alice - bob", IsPrivate: true, Participants: []domain.User{alice, bob}}
)

func TestHandshake_Admit(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name    string
		creds   ws.Credentials
		setup   func(gate *mocks.MockIdentityGate, store *mocks.MockMembershipStore)
		wantErr error
	}{
		{
			name:    "no token",
			creds:   ws.Credentials{ClaimedUser: "alice", ChatID: "7"},
			setup:   func(*mocks.MockIdentityGate, *mocks.MockMembershipStore) {},
			wantErr: ws.ErrUnauthenticated,
		},
		{
			name:  "token fails validation",
			creds: ws.Credentials{Token: "garbage", ClaimedUser: "alice", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("garbage").Return("", errors.New("signature is invalid"))
			},
			wantErr: ws.ErrInvalidCredential,
		},
		{
			name:  "token without subject",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("", nil)
			},
			wantErr: ws.ErrInvalidCredential,
		},
		{
			name:  "subject differs from claimed user",
			creds: ws.Credentials{Token: "t", ClaimedUser: "bob", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
			},
			wantErr: ws.ErrIdentityMismatch,
		},
		{
			name:  "missing chat id",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
			},
			wantErr: ws.ErrMissingTarget,
		},
		{
			name:  "chat id is not a number",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice", ChatID: "seven"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
			},
			wantErr: ws.ErrMalformedTarget,
		},
		{
			name:  "chat id is not positive",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice", ChatID: "-7"},
			setup: func(gate *mocks.MockIdentityGate, _ *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
			},
			wantErr: ws.ErrMalformedTarget,
		},
		{
			name:  "chat does not exist",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice", ChatID: "99"},
			setup: func(gate *mocks.MockIdentityGate, store *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
				store.EXPECT().FindChat(gomock.Any(), domain.ChatID(99)).Return(nil, domain.ErrChatNotFound)
			},
			wantErr: ws.ErrChatNotFound,
		},
		{
			name:  "user not in participant set",
			creds: ws.Credentials{Token: "t", ClaimedUser: "carol", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, store *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("carol", nil)
				store.EXPECT().FindChat(gomock.Any(), domain.ChatID(7)).Return(&chat7, nil)
				store.EXPECT().FindUser(gomock.Any(), "carol").Return(&carol, nil)
				store.EXPECT().IsParticipant(gomock.Any(), carol.ID, chat7.ID).Return(false, nil)
			},
			wantErr: ws.ErrNotAParticipant,
		},
		{
			name:  "user no longer exists",
			creds: ws.Credentials{Token: "t", ClaimedUser: "ghost", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, store *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("ghost", nil)
				store.EXPECT().FindChat(gomock.Any(), domain.ChatID(7)).Return(&chat7, nil)
				store.EXPECT().FindUser(gomock.Any(), "ghost").Return(nil, domain.ErrUserNotFound)
			},
			wantErr: ws.ErrNotAParticipant,
		},
		{
			name:  "store unavailable",
			creds: ws.Credentials{Token: "t", ClaimedUser: "alice", ChatID: "7"},
			setup: func(gate *mocks.MockIdentityGate, store *mocks.MockMembershipStore) {
				gate.EXPECT().Validate("t").Return("alice", nil)
				store.EXPECT().FindChat(gomock.Any(), domain.ChatID(7)).Return(nil, storeDown)
			},
			wantErr: ws.ErrHandshakeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			gate := mocks.NewMockIdentityGate(ctrl)
			store := mocks.NewMockMembershipStore(ctrl)
			tt.setup(gate, store)

			session, err := ws.NewHandshake(gate, store).Admit(context.Background(), tt.creds)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, session)
		})
	}
}

func TestHandshake_AdmitsParticipant(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := mocks.NewMockIdentityGate(ctrl)
	store := mocks.NewMockMembershipStore(ctrl)

	gate.EXPECT().Validate("t").Return("bob", nil)
	store.EXPECT().FindChat(gomock.Any(), domain.ChatID(7)).Return(&chat7, nil)
	store.EXPECT().FindUser(gomock.Any(), "bob").Return(&bob, nil)
	store.EXPECT().IsParticipant(gomock.Any(), bob.ID, chat7.ID).Return(true, nil)

	session, err := ws.NewHandshake(gate, store).Admit(context.Background(),
		ws.Credentials{Token: "t", ClaimedUser: "bob", ChatID: " 7 "})

	require.NoError(t, err)
	assert.Equal(t, bob, session.User)
	assert.Equal(t, chat7.ID, session.Chat.ID)
	assert.NotEmpty(t, session.ID)
}

func TestCloseCodeAndReason(t *testing.T) {
	policy := []error{
		ws.ErrUnauthenticated, ws.ErrInvalidCredential, ws.ErrIdentityMismatch,
		ws.ErrMissingTarget, ws.ErrMalformedTarget, ws.ErrChatNotFound, ws.ErrNotAParticipant,
	}
	seen := map[string]bool{}
	for _, err := range policy {
		assert.Equal(t, websocket.ClosePolicyViolation, ws.CloseCode(err), err.Error())
		reason := ws.CloseReason(err)
		assert.NotEmpty(t, reason)
		assert.False(t, seen[reason], "reasons are distinct: %s", reason)
		seen[reason] = true
	}

	wrapped := errors.Join(ws.ErrHandshakeUnavailable, errors.New("dial tcp: refused"))
	assert.Equal(t, websocket.CloseInternalServerErr, ws.CloseCode(wrapped))
	assert.NotContains(t, ws.CloseReason(wrapped), "dial tcp")

	assert.Equal(t, "not_a_participant", ws.Reason(ws.ErrNotAParticipant))
	assert.Equal(t, "unknown", ws.Reason(errors.New("other")))
}
