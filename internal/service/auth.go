package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/repo-analyser/internal/apperror"
	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/model"
	"github.com/sakif/repo-analyser/internal/repository"
)

// TokenSealer seals OAuth tokens for storage. *auth.Sealer implements it.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
}

// AuthService is the thin sign-in adapter: it turns a completed GitHub OAuth
// exchange into a stored user and a session token.
//
//	AuthHandler (HTTP) → AuthService → UserRepository (store)
//	                                 ↘ TokenService (JWT), TokenSealer
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	sealer TokenSealer
	logger *slog.Logger
}

func NewAuthService(users repository.UserRepository, tokens *auth.TokenService, sealer TokenSealer, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, sealer: sealer, logger: logger}
}

// AuthResult bundles the user and the issued session token so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub upserts the user keyed on their GitHub id, stores the
// sealed access token and issues a session token.
//
// The access token is what background runs use to act for the user, so a
// login with a new grant replaces it.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}
	if ghUser.ID == 0 {
		return nil, apperror.ValidationFailed("id", "GitHub user id is required")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Name:      ghUser.Name,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}
	if ghUser.AccessToken != "" {
		sealed, err := s.sealer.Seal(ghUser.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("service/auth: sealing access token: %w", err)
		}
		user.SealedToken = sealed
	}

	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: token}, nil
}

// GetUserByID backs the /me endpoint.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("no caller")
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
