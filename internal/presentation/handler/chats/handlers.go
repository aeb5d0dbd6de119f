package chats

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	chatsUseCase "github.com/hilthontt/parley/internal/application/usecases/chats"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/ws"
	"github.com/hilthontt/parley/internal/presentation/utils"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Handler struct {
	chats    chatsUseCase.ChatsUseCase
	hub      *ws.Hub
	upgrader *websocket.Upgrader
	logger   *zap.SugaredLogger
}

func NewHandler(chats chatsUseCase.ChatsUseCase, hub *ws.Hub, upgrader *websocket.Upgrader, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		chats:    chats,
		hub:      hub,
		upgrader: upgrader,
		logger:   logger,
	}
}

func (h *Handler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := utils.CurrentUser(r.Context())
	if !ok {
		json.WriteUnauthorizedError(w, "Could not validate credentials")
		return
	}

	username := chi.URLParam(r, "username")
	if username == "" {
		json.WriteValidationError(w, errors.New("username is missing"))
		return
	}

	chat, created, err := h.chats.CreatePrivate(r.Context(), user, username)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			json.WriteNotFoundError(w, "User not found")
		case errors.Is(err, domain.ErrSelfReference):
			json.WriteBadRequestError(w, "Cannot create a chat with yourself")
		case errors.Is(err, domain.ErrNotFriends):
			json.WriteBadRequestError(w, "User is not your friend")
		default:
			json.WriteInternalError(w, err)
		}
		return
	}

	if !created {
		json.Write(w, http.StatusOK, createChatResponse{ChatID: int64(chat.ID), Message: "Chat already exists"})
		return
	}
	json.Write(w, http.StatusCreated, createChatResponse{ChatID: int64(chat.ID), Message: "Chat created successfully"})
}

func (h *Handler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := utils.CurrentUser(r.Context())
	if !ok {
		json.WriteUnauthorizedError(w, "Could not validate credentials")
		return
	}

	chats, err := h.chats.List(r.Context(), user.ID)
	if err != nil {
		json.WriteInternalError(w, err)
		return
	}

	json.Write(w, http.StatusOK, lo.Map(chats, toChatResponse))
}

func (h *Handler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := utils.CurrentUser(r.Context())
	if !ok {
		json.WriteUnauthorizedError(w, "Could not validate credentials")
		return
	}

	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatId"), 10, 64)
	if err != nil || chatID <= 0 {
		json.WriteBadRequestError(w, "Invalid chat id")
		return
	}

	messages, err := h.chats.History(r.Context(), user.ID, domain.ChatID(chatID))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrChatNotFound):
			json.WriteNotFoundError(w, "Chat not found")
		case errors.Is(err, domain.ErrNotParticipant):
			json.WriteForbiddenError(w, "You do not have access to this chat")
		default:
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusOK, lo.Map(messages, toMessageResponse))
}

// ConnectHandler upgrades /ws/{clientId} and hands the connection to the
// hub. Admission failures are reported with a close frame after the upgrade.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := query.Get("token")
	if token == "" {
		token = utils.BearerToken(r)
	}

	creds := ws.Credentials{
		Token:       token,
		ClaimedUser: chi.URLParam(r, "clientId"),
		ChatID:      query.Get("chat_id"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "clientId", creds.ClaimedUser, "error", err)
		return
	}

	// The connection outlives request-scoped deadlines.
	h.hub.Serve(context.WithoutCancel(r.Context()), conn, creds)
}
