package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// MessageToSend targets one user's connections with an encoded event.
type MessageToSend struct {
	TargetUserID uuid.UUID
	Payload      []byte
}

// Hub maintains the set of active clients and routes events to them. A
// user may hold several connections at once; every one of them receives
// each event addressed to the user.
type Hub struct {
	// Clients maps user ID to that user's active connections.
	Clients map[uuid.UUID]map[*Client]bool

	// SendDirect carries events addressed to a specific user.
	SendDirect chan *MessageToSend

	// Register and Unregister carry connection lifecycle changes.
	Register   chan *Client
	Unregister chan *Client

	// UnreadCount, when set, is queried on every registration so a
	// (re)connecting client starts from the authoritative badge count
	// instead of whatever live deliveries it happened to see.
	UnreadCount func(ctx context.Context, userID uuid.UUID) (int, error)

	logger  *slog.Logger
	metrics *utils.MetricsCollector

	mu sync.RWMutex
}

func NewHub(logger *slog.Logger, metrics *utils.MetricsCollector) *Hub {
	return &Hub{
		Clients:    make(map[uuid.UUID]map[*Client]bool),
		SendDirect: make(chan *MessageToSend, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the hub's processing loop.
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Clients[client.UserID]; !ok {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			connections := len(h.Clients[client.UserID])
			h.mu.Unlock()

			h.metrics.ClientConnected()
			h.logger.Debug("websocket client registered",
				"user", client.UserID, "connections", connections)
			h.replayUnreadCount(client)

		case client := <-h.Unregister:
			h.mu.Lock()
			if userClients, ok := h.Clients[client.UserID]; ok {
				if _, clientOk := userClients[client]; clientOk {
					delete(userClients, client)
					close(client.Send)
					if len(userClients) == 0 {
						delete(h.Clients, client.UserID)
					}
					h.metrics.ClientDisconnected()
					h.logger.Debug("websocket client unregistered",
						"user", client.UserID, "remaining", len(userClients))
				}
			}
			h.mu.Unlock()

		case message := <-h.SendDirect:
			h.mu.RLock()
			userClients := h.Clients[message.TargetUserID]
			for client := range userClients {
				select {
				case client.Send <- message.Payload:
				default:
					h.logger.Warn("send buffer full, dropping event for connection",
						"user", client.UserID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// SendEvent encodes an event and queues it for every connection the user
// holds. A disconnected user is not an error: the durable inbox is the
// record, live delivery is best-effort.
func (h *Hub) SendEvent(targetUserID uuid.UUID, event *models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "type", event.Type, "error", err)
		return
	}

	message := &MessageToSend{TargetUserID: targetUserID, Payload: payload}
	select {
	case h.SendDirect <- message:
	case <-time.After(time.Second):
		h.logger.Warn("timeout queuing event in hub", "user", targetUserID, "type", event.Type)
	}
}

// IsConnected reports whether the user holds at least one live connection.
func (h *Hub) IsConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[userID]) > 0
}

func (h *Hub) replayUnreadCount(client *Client) {
	if h.UnreadCount == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := h.UnreadCount(ctx, client.UserID)
	if err != nil {
		h.logger.Warn("failed to replay unread count", "user", client.UserID, "error", err)
		return
	}
	payload, err := json.Marshal(&models.Event{
		Type:    models.EventUnreadCount,
		Payload: models.UnreadCountPayload{Count: count},
	})
	if err != nil {
		return
	}
	select {
	case client.Send <- payload:
	default:
		h.logger.Warn("send buffer full during unread replay", "user", client.UserID)
	}
}
