package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmony/internal/dynamo/dynamotest"
	"harmony/internal/repository"
	"harmony/internal/server"
	"harmony/internal/service"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := dynamotest.New(
		dynamotest.Table{
			Name:         "UserData",
			PartitionKey: "user_id",
			Indexes: []dynamotest.Index{
				{Name: repository.EmailIndexName, PartitionKey: "email"},
			},
		},
		dynamotest.Table{Name: "EmailSet", PartitionKey: "email"},
		dynamotest.Table{Name: "ChatData", PartitionKey: "chat_id"},
		dynamotest.Table{
			Name:         "UserChat",
			PartitionKey: "user_id",
			SortKey:      "chat_id",
			Indexes: []dynamotest.Index{
				{Name: repository.ChatIDIndexName, PartitionKey: "chat_id", SortKey: "user_id"},
			},
		},
		dynamotest.Table{Name: "ChatHistory", PartitionKey: "chat_id", SortKey: "ulid"},
	)

	logger := zap.NewNop()
	users := service.NewUserService(
		repository.NewUserRepository(store, "UserData"),
		repository.NewEmailSetRepository(store, "EmailSet"),
		repository.NewMembershipRepository(store, "UserChat"),
		store,
		logger,
	)
	chats := service.NewChatService(
		repository.NewChatRepository(store, "ChatData"),
		repository.NewMembershipRepository(store, "UserChat"),
		repository.NewHistoryRepository(store, "ChatHistory"),
		users,
		store,
		nil,
		logger,
	)
	authSvc := service.NewAuthService(users, testSecret, time.Minute, logger)

	handlers := server.NewHandlers(authSvc, users, chats, server.NewHub(logger), nil, logger)
	srv := httptest.NewServer(server.NewRouter(handlers, testSecret, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func signUpAndLogin(t *testing.T, baseURL, email string) (userID, token string) {
	t.Helper()

	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/signup", "", map[string]string{
		"email":    email,
		"username": "someone",
		"password": "a long password",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	decodeBody(t, resp, &created)

	resp = doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "a long password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login map[string]string
	decodeBody(t, resp, &login)

	return created["user_id"], login["token"]
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chats", "", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/chats", "garbage-token", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignUpValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/signup", "", map[string]string{
		"email":    "not-an-email",
		"username": "someone",
		"password": "a long password",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignUpDuplicateEmailConflict(t *testing.T) {
	srv := newTestServer(t)
	signUpAndLogin(t, srv.URL, "dupe@example.com")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/signup", "", map[string]string{
		"email":    "dupe@example.com",
		"username": "second",
		"password": "another password",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestChatFlow(t *testing.T) {
	srv := newTestServer(t)

	bobID, _ := signUpAndLogin(t, srv.URL, "bob@example.com")
	_, aliceToken := signUpAndLogin(t, srv.URL, "alice@example.com")
	_, carolToken := signUpAndLogin(t, srv.URL, "carol@example.com")

	// Alice creates a chat with Bob.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chats", aliceToken, map[string]any{
		"user_ids": []string{bobID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var chat map[string]string
	decodeBody(t, resp, &chat)
	chatID := chat["chat_id"]
	require.NotEmpty(t, chatID)

	// Alice sends a message.
	msgURL := fmt.Sprintf("%s/api/v1/chats/%s/messages", srv.URL, chatID)
	resp = doJSON(t, http.MethodPost, msgURL, aliceToken, map[string]string{"content": "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Alice reads it back.
	resp = doJSON(t, http.MethodGet, msgURL, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeBody(t, resp, &history)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi", history.Messages[0].Content)

	// Carol is not a member.
	resp = doJSON(t, http.MethodGet, msgURL, carolToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An unknown chat is not found.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/chats/nope/messages", aliceToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The chat shows up in Alice's list.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/users/me/chats", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chatList map[string][]string
	decodeBody(t, resp, &chatList)
	assert.Equal(t, []string{chatID}, chatList["chat_ids"])
}

func TestLeaveAndDeleteChat(t *testing.T) {
	srv := newTestServer(t)

	bobID, bobToken := signUpAndLogin(t, srv.URL, "bob@example.com")
	_, aliceToken := signUpAndLogin(t, srv.URL, "alice@example.com")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chats", aliceToken, map[string]any{
		"user_ids": []string{bobID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var chat map[string]string
	decodeBody(t, resp, &chat)
	chatID := chat["chat_id"]

	// Bob leaves, and loses access.
	leaveURL := fmt.Sprintf("%s/api/v1/chats/%s/users/me", srv.URL, chatID)
	resp = doJSON(t, http.MethodDelete, leaveURL, bobToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	msgURL := fmt.Sprintf("%s/api/v1/chats/%s/messages", srv.URL, chatID)
	resp = doJSON(t, http.MethodGet, msgURL, bobToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Alice deletes the chat.
	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/chats/%s", srv.URL, chatID), aliceToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, msgURL, aliceToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteMe(t *testing.T) {
	srv := newTestServer(t)
	_, token := signUpAndLogin(t, srv.URL, "gone@example.com")

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/users/me", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The token still parses, but the profile reads as gone.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/users/me", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// And the credentials no longer log in.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{
		"email":    "gone@example.com",
		"password": "a long password",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
