package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/hilthontt/parley/internal/application/usecases/account"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/json"
	"github.com/hilthontt/parley/internal/infrastructure/validate"
	"github.com/hilthontt/parley/internal/presentation/utils"
)

type Handler struct {
	accounts      account.AccountUseCase
	tokenTTL      time.Duration
	secureCookies bool
}

func NewHandler(accounts account.AccountUseCase, tokenTTL time.Duration, secureCookies bool) *Handler {
	return &Handler{
		accounts:      accounts,
		tokenTTL:      tokenTTL,
		secureCookies: secureCookies,
	}
}

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterInput
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			json.WriteValidationError(w, err)
		case errors.Is(err, domain.ErrUsernameTaken):
			json.WriteError(w, http.StatusBadRequest, err, "Username already registered")
		case errors.Is(err, domain.ErrEmailTaken):
			json.WriteError(w, http.StatusBadRequest, err, "Email already registered")
		default:
			json.WriteInternalError(w, err)
		}
		return
	}

	json.Write(w, http.StatusCreated, userResponse{
		ID:        int64(user.ID),
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

// TokenHandler takes an OAuth2 password-grant style form and sets the
// access token both in the body and as an httpOnly cookie.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		json.WriteBadRequestError(w, "Invalid form body")
		return
	}

	req := loginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}
	if err := validate.Struct(req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			json.WriteUnauthorizedError(w, "Incorrect username or password")
			return
		}
		json.WriteInternalError(w, err)
		return
	}

	utils.SetAccessTokenCookie(w, token, h.tokenTTL, h.secureCookies)
	json.Write(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	utils.ClearAccessTokenCookie(w, h.secureCookies)
	json.Write(w, http.StatusOK, messageResponse{Message: "Logged out"})
}
