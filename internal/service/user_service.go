package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"harmony/internal/dynamo"
	"harmony/internal/ids"
	"harmony/internal/models"
	"harmony/internal/repository"
)

type UserService struct {
	users       *repository.UserRepository
	emails      *repository.EmailSetRepository
	memberships *repository.MembershipRepository
	client      dynamo.API
	logger      *zap.Logger
}

func NewUserService(
	users *repository.UserRepository,
	emails *repository.EmailSetRepository,
	memberships *repository.MembershipRepository,
	client dynamo.API,
	logger *zap.Logger,
) *UserService {
	return &UserService{
		users:       users,
		emails:      emails,
		memberships: memberships,
		client:      client,
		logger:      logger,
	}
}

// Create claims the email and writes the user record in one atomic
// transaction, so a half-registered user is never observable. A lost race on
// the email claim surfaces as ErrEmailTaken.
func (s *UserService) Create(ctx context.Context, email, username, hashedPassword string) (string, error) {
	userID, at := ids.New()
	if username == "" {
		username = userID
	}

	user := &models.User{
		UserID:         userID,
		CreatedAt:      at.Format(time.RFC3339Nano),
		Tombstone:      false,
		Email:          email,
		HashedPassword: hashedPassword,
		Metadata: models.UserMetadata{
			Username: username,
			Email:    email,
		},
	}

	txCtx, uow, err := dynamo.Begin(ctx, s.client)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	if err := s.emails.Claim(txCtx, email); err != nil {
		return "", fmt.Errorf("failed to claim email: %w", err)
	}
	if err := s.users.Create(txCtx, user); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, dynamo.ErrConditionFailed) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("failed to commit user creation: %w", err)
	}

	s.logger.Info("user created", zap.String("user_id", userID))
	return userID, nil
}

// Exists reports whether the user exists and is not tombstoned.
func (s *UserService) Exists(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user != nil && !user.Tombstone, nil
}

func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.GetByEmail(ctx, email)
}

// Delete tombstones the user. Memberships, historical messages and the email
// claim are deliberately left untouched: the record must keep resolving for
// history, and the email stays burned. There is no revival path.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	found, err := s.users.Tombstone(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to tombstone user: %w", err)
	}
	if !found {
		return ErrUserNotFound
	}
	s.logger.Info("user tombstoned", zap.String("user_id", userID))
	return nil
}

// Chats lists the chat ids the user participates in.
func (s *UserService) Chats(ctx context.Context, userID string) ([]string, error) {
	return s.memberships.ChatsForUser(ctx, userID)
}
