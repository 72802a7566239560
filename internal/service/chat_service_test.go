package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony/internal/service"
)

func TestCreateChatWritesAllMembersAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	carol := f.newUser(t, "carol@example.com")

	chatID, err := f.chats.Create(ctx, alice, []string{bob, carol})
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	assert.Equal(t, 1, f.store.Count(chatDataTable))
	assert.Equal(t, 3, f.store.Count(userChatTable))

	for _, userID := range []string{alice, bob, carol} {
		chatIDs, err := f.users.Chats(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, []string{chatID}, chatIDs)
	}
}

func TestCreateChatDeduplicatesCreator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")

	_, err := f.chats.Create(ctx, alice, []string{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Count(userChatTable))
}

func TestCreateChatUnknownUserLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")

	_, err := f.chats.Create(ctx, alice, []string{"ghost"})
	require.ErrorIs(t, err, service.ErrUserNotFound)

	assert.Equal(t, 0, f.store.Count(chatDataTable))
	assert.Equal(t, 0, f.store.Count(userChatTable))
}

func TestCreateChatTombstonedUserRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	require.NoError(t, f.users.Delete(ctx, bob))

	_, err := f.chats.Create(ctx, alice, []string{bob})
	assert.ErrorIs(t, err, service.ErrUserNotFound)
	assert.Equal(t, 0, f.store.Count(chatDataTable))
}

func TestCreateChatTooManyParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	others := make([]string, service.MaxUsersPerOperation)
	for i := range others {
		others[i] = f.newUser(t, fmt.Sprintf("user%d@example.com", i))
	}

	// Creator plus MaxUsersPerOperation distinct users is one too many.
	_, err := f.chats.Create(ctx, alice, others)
	assert.ErrorIs(t, err, service.ErrTooManyParticipants)
}

func TestSendMessageAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	carol := f.newUser(t, "carol@example.com")

	chatID, err := f.chats.Create(ctx, alice, []string{bob})
	require.NoError(t, err)

	sent, err := f.chats.SendMessage(ctx, alice, chatID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Content)
	assert.NotEmpty(t, sent.ULID)
	assert.NotEmpty(t, sent.Timestamp)

	// The other member reads the message back.
	history, err := f.chats.History(ctx, bob, chatID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, alice, history[0].UserID)

	// A non-member is told the chat exists but is off limits.
	_, err = f.chats.History(ctx, carol, chatID)
	assert.ErrorIs(t, err, service.ErrNotMember)
	_, err = f.chats.SendMessage(ctx, carol, chatID, "let me in")
	assert.ErrorIs(t, err, service.ErrNotMember)

	// A missing chat reads as not found, for members and strangers alike.
	_, err = f.chats.SendMessage(ctx, alice, "no-such-chat", "hello?")
	assert.ErrorIs(t, err, service.ErrChatNotFound)
	_, err = f.chats.History(ctx, alice, "no-such-chat")
	assert.ErrorIs(t, err, service.ErrChatNotFound)
}

func TestHistoryPreservesSendOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := f.chats.SendMessage(ctx, alice, chatID, fmt.Sprintf("msg-%02d", i))
		require.NoError(t, err)
	}

	history, err := f.chats.History(ctx, alice, chatID)
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), msg.Content)
	}
}

func TestSendMessagePublishesToLiveFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	_, err = f.chats.SendMessage(ctx, alice, chatID, "live")
	require.NoError(t, err)

	published := f.pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, chatID, published[0].ChatID)
	assert.Equal(t, "live", published[0].Content)
}

func TestSendMessageSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	f.pub.err = errors.New("redis down")
	_, err = f.chats.SendMessage(ctx, alice, chatID, "still delivered")
	require.NoError(t, err)

	history, err := f.chats.History(ctx, alice, chatID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAddUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	carol := f.newUser(t, "carol@example.com")

	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	require.NoError(t, f.chats.AddUsers(ctx, alice, chatID, []string{bob, carol}))
	assert.Equal(t, 3, f.store.Count(userChatTable))

	// The new member has full access.
	_, err = f.chats.SendMessage(ctx, bob, chatID, "thanks for the invite")
	require.NoError(t, err)

	members, err := f.chats.Members(ctx, alice, chatID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob, carol}, members)
}

func TestMembersRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	mallory := f.newUser(t, "mallory@example.com")

	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	_, err = f.chats.Members(ctx, mallory, chatID)
	assert.ErrorIs(t, err, service.ErrNotMember)

	_, err = f.chats.Members(ctx, alice, "no-such-chat")
	assert.ErrorIs(t, err, service.ErrChatNotFound)
}

func TestAddUsersValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")

	chatID, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	err = f.chats.AddUsers(ctx, alice, chatID, nil)
	assert.ErrorIs(t, err, service.ErrNoParticipants)

	tooMany := make([]string, service.MaxUsersPerOperation+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("user-%d", i)
	}
	err = f.chats.AddUsers(ctx, alice, chatID, tooMany)
	assert.ErrorIs(t, err, service.ErrTooManyParticipants)

	err = f.chats.AddUsers(ctx, alice, chatID, []string{"ghost"})
	assert.ErrorIs(t, err, service.ErrUserNotFound)

	// A non-member cannot grow the chat.
	err = f.chats.AddUsers(ctx, bob, chatID, []string{bob})
	assert.ErrorIs(t, err, service.ErrNotMember)

	err = f.chats.AddUsers(ctx, alice, "no-such-chat", []string{bob})
	assert.ErrorIs(t, err, service.ErrChatNotFound)
}

func TestLeaveChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")

	chatID, err := f.chats.Create(ctx, alice, []string{bob})
	require.NoError(t, err)

	require.NoError(t, f.chats.Leave(ctx, bob, chatID))

	err = f.chats.CheckAccess(ctx, bob, chatID)
	assert.ErrorIs(t, err, service.ErrNotMember)

	// Leaving twice fails the membership condition.
	err = f.chats.Leave(ctx, bob, chatID)
	assert.ErrorIs(t, err, service.ErrNotMember)

	err = f.chats.Leave(ctx, alice, "no-such-chat")
	assert.ErrorIs(t, err, service.ErrChatNotFound)
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	carol := f.newUser(t, "carol@example.com")

	chatID, err := f.chats.Create(ctx, alice, []string{bob})
	require.NoError(t, err)

	// Only members may delete.
	err = f.chats.Delete(ctx, carol, chatID)
	assert.ErrorIs(t, err, service.ErrNotMember)

	require.NoError(t, f.chats.Delete(ctx, bob, chatID))
	assert.Equal(t, 0, f.store.Count(chatDataTable))

	// Racing deletes and deletes of unknown chats both read as not found.
	err = f.chats.Delete(ctx, alice, chatID)
	assert.ErrorIs(t, err, service.ErrChatNotFound)
	err = f.chats.Delete(ctx, alice, "no-such-chat")
	assert.ErrorIs(t, err, service.ErrChatNotFound)
}

func TestPurgeRemovesHistoryAndMemberships(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")

	chatID, err := f.chats.Create(ctx, alice, []string{bob})
	require.NoError(t, err)

	for i := 0; i < 57; i++ {
		_, err := f.chats.SendMessage(ctx, alice, chatID, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 57, f.store.Count(chatHistoryTable))

	require.NoError(t, f.chats.Delete(ctx, alice, chatID))
	require.NoError(t, f.chats.Purge(ctx, chatID))

	assert.Equal(t, 0, f.store.Count(chatHistoryTable))
	assert.Equal(t, 0, f.store.Count(userChatTable))

	// Every delete batch respects the 25-item service limit.
	for _, size := range f.store.BatchSizes() {
		assert.LessOrEqual(t, size, 25)
	}
}

func TestMembershipsSpanChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")

	first, err := f.chats.Create(ctx, alice, []string{bob})
	require.NoError(t, err)
	second, err := f.chats.Create(ctx, alice, nil)
	require.NoError(t, err)

	chatIDs, err := f.users.Chats(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, chatIDs)

	chatIDs, err = f.users.Chats(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, chatIDs)
}
