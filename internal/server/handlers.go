package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"harmony/internal/service"
)

// purgeTimeout bounds the background cleanup that runs after a chat is
// deleted.
const purgeTimeout = 5 * time.Minute

// Presence tracks which users currently hold a live connection.
type Presence interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
}

type Handlers struct {
	auth     *service.AuthService
	users    *service.UserService
	chats    *service.ChatService
	hub      *Hub
	presence Presence
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandlers(
	auth *service.AuthService,
	users *service.UserService,
	chats *service.ChatService,
	hub *Hub,
	presence Presence,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		auth:     auth,
		users:    users,
		chats:    chats,
		hub:      hub,
		presence: presence,
		validate: validator.New(),
		logger:   logger,
	}
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type createChatRequest struct {
	UserIDs []string `json:"user_ids" validate:"max=10,dive,required"`
}

type addUsersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=10,dive,required"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4096"`
}

type chatResponse struct {
	ChatID string `json:"chat_id"`
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID, err := h.auth.SignUp(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil || user.Tombstone {
		h.writeError(w, r, service.ErrUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) deleteMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	if err := h.users.Delete(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) userPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	if h.presence == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"online": false})
		return
	}
	online, err := h.presence.IsUserOnline(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": online})
}

func (h *Handlers) myChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	chatIDs, err := h.users.Chats(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"chat_ids": chatIDs})
}

func (h *Handlers) createChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req createChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	chatID, err := h.chats.Create(r.Context(), userID, req.UserIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse{ChatID: chatID})
}

func (h *Handlers) addUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	var req addUsersRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.chats.AddUsers(r.Context(), userID, chatID, req.UserIDs); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) chatMembers(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	members, err := h.chats.Members(r.Context(), userID, chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"user_ids": members})
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	var req sendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.chats.SendMessage(r.Context(), userID, chatID, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	messages, err := h.chats.History(r.Context(), userID, chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handlers) leaveChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	if err := h.chats.Leave(r.Context(), userID, chatID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deleteChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	if err := h.chats.Delete(r.Context(), userID, chatID); err != nil {
		h.writeError(w, r, err)
		return
	}

	// Memberships and history are purged out of band; the chat record is
	// already gone, so readers see the chat as deleted immediately.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		if err := h.chats.Purge(ctx, chatID); err != nil {
			h.logger.Error("chat purge failed",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, service.ErrChatNotFound):
		status, msg = http.StatusNotFound, "chat not found"
	case errors.Is(err, service.ErrUserNotFound):
		status, msg = http.StatusNotFound, "user not found"
	case errors.Is(err, service.ErrNotMember):
		status, msg = http.StatusForbidden, "not a member of this chat"
	case errors.Is(err, service.ErrEmailTaken):
		status, msg = http.StatusConflict, "email already registered"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrTooManyParticipants),
		errors.Is(err, service.ErrNoParticipants):
		status, msg = http.StatusBadRequest, err.Error()
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err))
	}
	writeJSONError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
