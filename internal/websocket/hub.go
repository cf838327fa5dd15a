package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/geoquiz-ledger/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string          `json:"type"`
	GameMode  domain.GameMode `json:"game_mode,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// LeaderboardUpdate carries a fresh global view of one game mode
type LeaderboardUpdate struct {
	GameMode domain.GameMode      `json:"game_mode"`
	Entries  []domain.ScoreRecord `json:"entries"`
}

// Stats describes the hub's connections
type Stats struct {
	TotalConnections int                     `json:"total_connections"`
	Subscribers      map[domain.GameMode]int `json:"subscribers"`
}

// Hub maintains the set of active clients and pushes leaderboard updates to
// the clients subscribed to a game mode
type Hub struct {
	// Subscribed clients by game mode
	clients map[domain.GameMode]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	mode   domain.GameMode
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.GameMode]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for mode, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, mode)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.mode]; !ok {
					h.clients[req.mode] = make(map[*Client]bool)
				}
				h.clients[req.mode][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "game_mode", req.mode)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.mode]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.mode)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "game_mode", req.mode)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its mode
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[message.GameMode]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastLeaderboardUpdate pushes a mode's global view to its subscribers
func (h *Hub) BroadcastLeaderboardUpdate(mode domain.GameMode, entries []domain.ScoreRecord) {
	message := &Message{
		Type:     MessageTypeLeaderboardUpdate,
		GameMode: mode,
		Data: LeaderboardUpdate{
			GameMode: mode,
			Entries:  entries,
		},
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "game_mode", mode)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a game mode's updates
func (h *Hub) Subscribe(client *Client, mode domain.GameMode) {
	h.subscribe <- &subscriptionRequest{client: client, mode: mode}
}

// Unsubscribe removes a client from a game mode's updates
func (h *Hub) Unsubscribe(client *Client, mode domain.GameMode) {
	h.unsubscribe <- &subscriptionRequest{client: client, mode: mode}
}

// SubscriberCount returns the number of subscribers of a game mode
func (h *Hub) SubscriberCount(mode domain.GameMode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[mode])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// Stats returns connection counts per game mode
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(h.allClients),
		Subscribers:      make(map[domain.GameMode]int, len(domain.AllGameModes)),
	}
	for _, mode := range domain.AllGameModes {
		stats.Subscribers[mode] = len(h.clients[mode])
	}
	return stats
}
