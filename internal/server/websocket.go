package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are authenticated by token, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and subscribes the client to its chat's
// live feed. Access is checked before the upgrade so unauthorized callers
// get a plain HTTP error.
func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["chat_id"]

	if err := h.chats.CheckAccess(r.Context(), userID, chatID); err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h.hub,
		userID: userID,
		chatID: chatID,
	}
	h.hub.register <- client

	if h.presence != nil {
		if err := h.presence.SetUserOnline(context.Background(), userID); err != nil {
			h.logger.Warn("failed to mark user online", zap.Error(err))
		}
	}

	go client.writePump()
	go func() {
		client.readPump()
		if h.presence != nil {
			if err := h.presence.SetUserOffline(context.Background(), userID); err != nil {
				h.logger.Warn("failed to mark user offline", zap.Error(err))
			}
		}
	}()
}
