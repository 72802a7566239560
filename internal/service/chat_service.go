package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"harmony/internal/dynamo"
	"harmony/internal/ids"
	"harmony/internal/models"
	"harmony/internal/repository"
)

// MaxUsersPerOperation caps how many participants a single chat creation or
// add-users call may touch. Larger groups are built up incrementally.
const MaxUsersPerOperation = 10

// Publisher delivers freshly persisted messages to live subscribers. It is
// optional; a nil publisher disables live delivery.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
}

type ChatService struct {
	chats       *repository.ChatRepository
	memberships *repository.MembershipRepository
	history     *repository.HistoryRepository
	users       *UserService
	client      dynamo.API
	publisher   Publisher
	logger      *zap.Logger
}

func NewChatService(
	chats *repository.ChatRepository,
	memberships *repository.MembershipRepository,
	history *repository.HistoryRepository,
	users *UserService,
	client dynamo.API,
	publisher Publisher,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		chats:       chats,
		memberships: memberships,
		history:     history,
		users:       users,
		client:      client,
		publisher:   publisher,
		logger:      logger,
	}
}

// CheckAccess gates message send and history read: the chat must exist and
// the user must be a member. The two reads are issued concurrently and both
// must pass. This path tolerates eventual consistency, so it is not wrapped
// in a transaction.
func (s *ChatService) CheckAccess(ctx context.Context, userID, chatID string) error {
	var exists, member bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exists, err = s.chats.Exists(gctx, chatID)
		return err
	})
	g.Go(func() error {
		var err error
		member, err = s.memberships.IsMember(gctx, chatID, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to verify chat access: %w", err)
	}

	if !exists {
		return ErrChatNotFound
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// requireExistingUsers runs one concurrent existence check per user and
// fails before any write happens if one is missing or tombstoned.
func (s *ChatService) requireExistingUsers(ctx context.Context, userIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			exists, err := s.users.Exists(gctx, userID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
			}
			return nil
		})
	}
	return g.Wait()
}

// Create validates the participant list, then writes the chat record and all
// membership records in one Unit of Work: the chat either has all of its
// initial members or does not exist at all.
func (s *ChatService) Create(ctx context.Context, creatorID string, userIDs []string) (string, error) {
	participants := lo.Uniq(append(userIDs, creatorID))
	if len(participants) > MaxUsersPerOperation {
		return "", fmt.Errorf("%w: a chat cannot be created with more than %d users",
			ErrTooManyParticipants, MaxUsersPerOperation)
	}

	if err := s.requireExistingUsers(ctx, participants); err != nil {
		return "", err
	}

	chatID, at := ids.New()
	chat := &models.Chat{
		ChatID:    chatID,
		CreatedAt: at.Format(time.RFC3339Nano),
	}

	txCtx, uow, err := dynamo.Begin(ctx, s.client)
	if err != nil {
		return "", err
	}
	defer uow.Rollback()

	if err := s.chats.Create(txCtx, chat); err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}
	if err := s.memberships.AddMembers(txCtx, chatID, participants); err != nil {
		return "", fmt.Errorf("failed to add members: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit chat creation: %w", err)
	}

	s.logger.Info("chat created",
		zap.String("chat_id", chatID),
		zap.Int("members", len(participants)))
	return chatID, nil
}

// AddUsers adds up to MaxUsersPerOperation users to an existing chat. The
// chat's existence and the requester's membership are asserted as condition
// checks inside the same transaction that writes the new memberships.
func (s *ChatService) AddUsers(ctx context.Context, requesterID, chatID string, userIDs []string) error {
	userIDs = lo.Uniq(userIDs)
	if len(userIDs) == 0 {
		return ErrNoParticipants
	}
	if len(userIDs) > MaxUsersPerOperation {
		return fmt.Errorf("%w: cannot add more than %d users at once",
			ErrTooManyParticipants, MaxUsersPerOperation)
	}

	if err := s.requireExistingUsers(ctx, userIDs); err != nil {
		return err
	}

	txCtx, uow, err := dynamo.Begin(ctx, s.client)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := s.chats.RequireExists(txCtx, chatID); err != nil {
		return err
	}
	if err := s.memberships.RequireMember(txCtx, chatID, requesterID); err != nil {
		return err
	}
	if err := s.memberships.AddMembers(txCtx, chatID, userIDs); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, dynamo.ErrConditionFailed) {
			return s.classifyConditionFailure(ctx, requesterID, chatID, err)
		}
		return fmt.Errorf("failed to commit adding users: %w", err)
	}
	return nil
}

// SendMessage persists one immutable message after the access check passes.
// The returned message carries the generated ULID and its timestamp.
func (s *ChatService) SendMessage(ctx context.Context, userID, chatID, content string) (*models.Message, error) {
	if err := s.CheckAccess(ctx, userID, chatID); err != nil {
		return nil, err
	}

	msgID, at := ids.New()
	msg := &models.Message{
		ChatID:    chatID,
		ULID:      msgID,
		Timestamp: at.Format(time.RFC3339Nano),
		UserID:    userID,
		Content:   content,
	}

	if err := s.history.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessage(ctx, msg); err != nil {
			// Live delivery is best effort; the message is already durable.
			s.logger.Warn("failed to publish message",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return msg, nil
}

// History returns the chat's messages in send order, gated by the same
// access check as SendMessage.
func (s *ChatService) History(ctx context.Context, userID, chatID string) ([]models.Message, error) {
	if err := s.CheckAccess(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.history.History(ctx, chatID)
}

// Members lists the chat's member ids, gated by the same access check as
// History.
func (s *ChatService) Members(ctx context.Context, userID, chatID string) ([]string, error) {
	if err := s.CheckAccess(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.memberships.MembersOfChat(ctx, chatID)
}

// Leave removes the requester's own membership, atomically conditioned on
// the chat existing and the membership still being present.
func (s *ChatService) Leave(ctx context.Context, userID, chatID string) error {
	txCtx, uow, err := dynamo.Begin(ctx, s.client)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := s.chats.RequireExists(txCtx, chatID); err != nil {
		return err
	}
	if err := s.memberships.RemoveMember(txCtx, chatID, userID); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, dynamo.ErrConditionFailed) {
			return s.classifyConditionFailure(ctx, userID, chatID, err)
		}
		return fmt.Errorf("failed to commit leaving chat: %w", err)
	}
	return nil
}

// Delete removes the chat record. The membership condition check and the
// conditional delete live in one transaction, so there is no window between
// check and delete. The bulk purge of messages and memberships may span
// thousands of records and runs out of band via Purge.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	txCtx, uow, err := dynamo.Begin(ctx, s.client)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := s.memberships.RequireMember(txCtx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.Delete(txCtx, chatID); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, dynamo.ErrConditionFailed) {
			return s.classifyConditionFailure(ctx, userID, chatID, err)
		}
		return fmt.Errorf("failed to commit chat deletion: %w", err)
	}

	s.logger.Info("chat deleted",
		zap.String("chat_id", chatID), zap.String("user_id", userID))
	return nil
}

// Purge bulk-deletes a chat's history and memberships. Runs after Delete,
// outside any transaction; both purges fan out concurrently through the
// batch executor.
func (s *ChatService) Purge(ctx context.Context, chatID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.history.Purge(gctx, chatID)
	})
	g.Go(func() error {
		return s.memberships.PurgeChat(gctx, chatID)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to purge chat %s: %w", chatID, err)
	}
	return nil
}

// classifyConditionFailure turns a cancelled transaction into the domain
// outcome a caller can act on. The store does not say which condition
// failed, so the state is re-read after the fact.
func (s *ChatService) classifyConditionFailure(ctx context.Context, userID, chatID string, cause error) error {
	exists, err := s.chats.Exists(ctx, chatID)
	if err == nil && !exists {
		return ErrChatNotFound
	}
	member, err := s.memberships.IsMember(ctx, chatID, userID)
	if err == nil && !member {
		return ErrNotMember
	}
	return cause
}
