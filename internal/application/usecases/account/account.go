package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/auth"
	"github.com/hilthontt/parley/internal/infrastructure/validate"
	"go.uber.org/zap"
)

// TokenIssuer is implemented by auth.TokenManager.
type TokenIssuer interface {
	Generate(username string) (string, error)
	Validate(token string) (string, error)
}

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type AccountUseCase interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

type accountUseCase struct {
	users  domain.UserRepository
	tokens TokenIssuer
	logger *zap.SugaredLogger
}

func NewAccountUseCase(users domain.UserRepository, tokens TokenIssuer, logger *zap.SugaredLogger) AccountUseCase {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &accountUseCase{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

func (uc *accountUseCase) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := domain.NewUser(in.Username, in.Email, hash)
	if err != nil {
		return nil, err
	}

	if err := uc.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrUsernameTaken) && !errors.Is(err, domain.ErrEmailTaken) {
			uc.logger.Errorw("failed to create user", "username", user.Username, "error", err)
		}
		return nil, err
	}

	uc.logger.Infow("user registered", "userId", user.ID, "username", user.Username)
	return user, nil
}

// Login checks the password and returns a signed access token. Unknown users
// and wrong passwords fail the same way.
func (uc *accountUseCase) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", domain.ErrInvalidCredentials
	}

	user, err := uc.users.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil {
		uc.logger.Warnw("stored password hash is unreadable", "userId", user.ID, "error", err)
		return "", domain.ErrInvalidCredentials
	}
	if !ok {
		return "", domain.ErrInvalidCredentials
	}

	token, err := uc.tokens.Generate(user.Username)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, nil
}

// Authenticate resolves an access token to the user it was issued for.
func (uc *accountUseCase) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrInvalidCredentials
	}

	username, err := uc.tokens.Validate(token)
	if err != nil || username == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := uc.users.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}
