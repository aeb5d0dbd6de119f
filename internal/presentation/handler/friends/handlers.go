package friends

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	friendsUseCase "github.com/hilthontt/parley/internal/application/usecases/friends"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/presentation/utils"
	"github.com/samber/lo"
)

type Handler struct {
	friends friendsUseCase.FriendsUseCase
}

func NewHandler(friends friendsUseCase.FriendsUseCase) *Handler {
	return &Handler{friends: friends}
}

func (h *Handler) AddFriendHandler(w http.ResponseWriter, r *http.Request) {
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

	friend, err := h.friends.Add(r.Context(), user, username)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			json.WriteNotFoundError(w, "User not found")
		case errors.Is(err, domain.ErrSelfReference):
			json.WriteBadRequestError(w, "Cannot add yourself as a friend")
		case errors.Is(err, domain.ErrAlreadyFriends):
			json.WriteBadRequestError(w, "Already friends")
		default:
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Added %s as a friend", friend.Username),
	})
}

func (h *Handler) ListFriendsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := utils.CurrentUser(r.Context())
	if !ok {
		json.WriteUnauthorizedError(w, "Could not validate credentials")
		return
	}

	friends, err := h.friends.List(r.Context(), user.ID)
	if err != nil {
		json.WriteInternalError(w, err)
		return
	}

	json.Write(w, http.StatusOK, lo.Map(friends, func(u domain.User, _ int) userBasicResponse {
		return userBasicResponse{ID: int64(u.ID), Username: u.Username}
	}))
}
