//go:generate go run go.uber.org/mock/mockgen -source=handshake.go -destination=mocks/mock_handshake.go -package=mocks
package ws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IdentityGate resolves a bearer token to the username it was issued for.
type IdentityGate interface {
	Validate(token string) (string, error)
}

// MembershipStore is the storage the core reads memberships from and
// writes messages to.
type MembershipStore interface {
	FindUser(ctx context.Context, username string) (*domain.User, error)
	// FindChat returns domain.ErrChatNotFound for unknown ids.
	FindChat(ctx context.Context, chatID domain.ChatID) (*domain.Chat, error)
	IsParticipant(ctx context.Context, userID domain.UserID, chatID domain.ChatID) (bool, error)
	PersistMessage(ctx context.Context, senderID domain.UserID, chatID domain.ChatID, content string) (*domain.Message, error)
}

// Credentials is what a client presents when opening a connection.
type Credentials struct {
	Token       string
	ClaimedUser string
	ChatID      string
}

// Session is an admitted (user, chat) connection.
type Session struct {
	ID   string
	User domain.User
	Chat domain.Chat
}

type Handshake struct {
	gate   IdentityGate
	store  MembershipStore
	tracer trace.Tracer
}

func NewHandshake(gate IdentityGate, store MembershipStore) *Handshake {
	return &Handshake{
		gate:   gate,
		store:  store,
		tracer: tracing.GetTracer("parley/ws"),
	}
}

// Admit runs the admission checks in order and stops at the first failure.
// Chat existence is checked before participation.
func (h *Handshake) Admit(ctx context.Context, creds Credentials) (*Session, error) {
	ctx, span := h.tracer.Start(ctx, "ws.handshake")
	defer span.End()

	session, err := h.admit(ctx, creds)
	if err != nil {
		span.SetAttributes(attribute.String("ws.reject_reason", Reason(err)))
		span.SetStatus(codes.Error, Reason(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("chat.id", int64(session.Chat.ID)),
		attribute.Int64("user.id", int64(session.User.ID)),
	)
	return session, nil
}

func (h *Handshake) admit(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Token == "" {
		return nil, ErrUnauthenticated
	}

	username, err := h.gate.Validate(creds.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if username == "" {
		return nil, ErrInvalidCredential
	}

	if username != creds.ClaimedUser {
		return nil, ErrIdentityMismatch
	}

	chatID, err := parseChatID(creds.ChatID)
	if err != nil {
		return nil, err
	}

	chat, err := h.store.FindChat(ctx, chatID)
	if errors.Is(err, domain.ErrChatNotFound) || (err == nil && chat == nil) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find chat: %v", ErrHandshakeUnavailable, err)
	}

	user, err := h.store.FindUser(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) || (err == nil && user == nil) {
		return nil, ErrNotAParticipant
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %v", ErrHandshakeUnavailable, err)
	}

	ok, err := h.store.IsParticipant(ctx, user.ID, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: membership: %v", ErrHandshakeUnavailable, err)
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	return &Session{
		ID:   uuid.NewString(),
		User: *user,
		Chat: *chat,
	}, nil
}

func parseChatID(raw string) (domain.ChatID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingTarget
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformedTarget
	}
	return domain.ChatID(id), nil
}
