// Package server exposes the REST and WebSocket API.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter builds the full route table. Everything under /api/v1 except
// the auth endpoints requires a Bearer token.
func NewRouter(h *Handlers, jwtSecret string, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(RequestID, Logging(logger))

	api.HandleFunc("/auth/signup", h.signUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(Auth(jwtSecret))

	authed.HandleFunc("/users/me", h.me).Methods(http.MethodGet)
	authed.HandleFunc("/users/me", h.deleteMe).Methods(http.MethodDelete)
	authed.HandleFunc("/users/me/chats", h.myChats).Methods(http.MethodGet)
	authed.HandleFunc("/users/{user_id}/presence", h.userPresence).Methods(http.MethodGet)

	authed.HandleFunc("/chats", h.createChat).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chat_id}/messages", h.sendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chat_id}/messages", h.history).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{chat_id}/users", h.addUsers).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chat_id}/users", h.chatMembers).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{chat_id}/users/me", h.leaveChat).Methods(http.MethodDelete)
	authed.HandleFunc("/chats/{chat_id}", h.deleteChat).Methods(http.MethodDelete)
	authed.HandleFunc("/chats/{chat_id}/ws", h.serveWS).Methods(http.MethodGet)

	return r
}
