package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"harmony/internal/models"
)

// Hub routes live messages to the WebSocket clients subscribed to each
// chat. Messages arrive over the Redis feed, so clients attached to other
// instances receive them too.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registrations and the live feed until ctx is cancelled.
// incoming may be nil when live delivery is disabled.
func (h *Hub) Run(ctx context.Context, incoming <-chan *models.Message) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcastToChat(msg.ChatID, payload)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.chatID] == nil {
		h.rooms[client.chatID] = make(map[*Client]bool)
	}
	h.rooms[client.chatID][client] = true

	h.logger.Debug("client joined chat",
		zap.String("user_id", client.userID),
		zap.String("chat_id", client.chatID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.chatID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.chatID)
	}
	close(client.send)

	h.logger.Debug("client left chat",
		zap.String("user_id", client.userID),
		zap.String("chat_id", client.chatID))
}

func (h *Hub) broadcastToChat(chatID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; drop the frame rather than block the hub.
			h.logger.Warn("dropping frame for slow client",
				zap.String("user_id", client.userID))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for client := range room {
			close(client.send)
			client.conn.Close()
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// Client is one WebSocket connection subscribed to one chat.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
	chatID string
}

// readPump drains the connection until the peer closes it. Clients send
// messages over the REST endpoint, not the socket; incoming frames are
// discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
