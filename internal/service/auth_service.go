package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"harmony/internal/auth"
)

// AuthService handles sign-up and login on top of the user service. Email
// uniqueness is ultimately enforced by the conditional email claim inside
// the user-creation transaction; the pre-check here only produces a
// friendlier error for the common case.
type AuthService struct {
	users    *UserService
	secret   string
	tokenTTL time.Duration
	logger   *zap.Logger
}

func NewAuthService(users *UserService, secret string, tokenTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:    users,
		secret:   secret,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// SignUp registers a new user and returns the generated user id.
func (s *AuthService) SignUp(ctx context.Context, email, username, password string) (string, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrEmailTaken
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}

	return s.users.Create(ctx, email, username, hashed)
}

// Login verifies the credentials and issues an access token. Tombstoned
// users cannot log in. Lookup failure and password mismatch are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil || user.Tombstone {
		return "", ErrInvalidCredentials
	}
	if !auth.VerifyPassword(user.HashedPassword, password) {
		return "", ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.UserID, s.secret, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.UserID))
	return token, nil
}
