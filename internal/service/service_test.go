package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmony/internal/dynamo/dynamotest"
	"harmony/internal/models"
	"harmony/internal/repository"
	"harmony/internal/service"
)

const (
	userDataTable    = "UserData"
	emailSetTable    = "EmailSet"
	chatDataTable    = "ChatData"
	userChatTable    = "UserChat"
	chatHistoryTable = "ChatHistory"
)

// capturePublisher records published messages; set err to simulate a broken
// live feed.
type capturePublisher struct {
	mu   sync.Mutex
	msgs []*models.Message
	err  error
}

func (p *capturePublisher) PublishMessage(_ context.Context, msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) published() []*models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Message(nil), p.msgs...)
}

type fixture struct {
	store *dynamotest.Store
	users *service.UserService
	chats *service.ChatService
	pub   *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := dynamotest.New(
		dynamotest.Table{
			Name:         userDataTable,
			PartitionKey: "user_id",
			Indexes: []dynamotest.Index{
				{Name: repository.EmailIndexName, PartitionKey: "email"},
			},
		},
		dynamotest.Table{Name: emailSetTable, PartitionKey: "email"},
		dynamotest.Table{Name: chatDataTable, PartitionKey: "chat_id"},
		dynamotest.Table{
			Name:         userChatTable,
			PartitionKey: "user_id",
			SortKey:      "chat_id",
			Indexes: []dynamotest.Index{
				{Name: repository.ChatIDIndexName, PartitionKey: "chat_id", SortKey: "user_id"},
			},
		},
		dynamotest.Table{Name: chatHistoryTable, PartitionKey: "chat_id", SortKey: "ulid"},
	)

	logger := zap.NewNop()
	users := service.NewUserService(
		repository.NewUserRepository(store, userDataTable),
		repository.NewEmailSetRepository(store, emailSetTable),
		repository.NewMembershipRepository(store, userChatTable),
		store,
		logger,
	)
	pub := &capturePublisher{}
	chats := service.NewChatService(
		repository.NewChatRepository(store, chatDataTable),
		repository.NewMembershipRepository(store, userChatTable),
		repository.NewHistoryRepository(store, chatHistoryTable),
		users,
		store,
		pub,
		logger,
	)

	return &fixture{store: store, users: users, chats: chats, pub: pub}
}

func (f *fixture) newUser(t *testing.T, email string) string {
	t.Helper()
	userID, err := f.users.Create(context.Background(), email, "", "hashed-password")
	require.NoError(t, err)
	return userID
}
