// Package websocket pushes real-time pipeline notifications to connected
// clients. Clients subscribe to named methods (ContentApprovalUpdate,
// ContentScheduled, ContentPublished) and optionally identify a user id to
// receive user-targeted messages.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"contentflow/pkg/logging"
)

// Notification methods pushed over the wire
const (
	MethodContentApprovalUpdate = "ContentApprovalUpdate"
	MethodContentScheduled      = "ContentScheduled"
	MethodContentPublished      = "ContentPublished"
	MethodPublishFailed         = "PublishFailed"
)

// Hub maintains the set of active clients and routes messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	mutex      sync.RWMutex
}

// Client represents one WebSocket connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger

	// mu guards the subscription fields, written by readPump and read by
	// the hub's routing goroutine
	mu      sync.Mutex
	methods []string // Subscribed methods, or "all"
	userID  *string  // Optional user id for user-targeted messages
	teamID  *string  // Team id for team-scoped messages
}

// Message is one real-time payload sent to clients
type Message struct {
	Method    string                 `json:"method"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    *string                `json:"user_id,omitempty"` // Set for user-targeted messages
	TeamID    *string                `json:"team_id,omitempty"` // Set for team-scoped messages
}

// SubscriptionMessage is a subscribe/unsubscribe request from a client
type SubscriptionMessage struct {
	Action  string   `json:"action"`  // "subscribe" or "unsubscribe"
	Methods []string `json:"methods"` // e.g. ["ContentApprovalUpdate"] or ["all"]
	UserID  *string  `json:"user_id,omitempty"`
	TeamID  *string  `json:"team_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a new hub
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			client.mu.Lock()
			methods := append([]string(nil), client.methods...)
			userID := client.userID
			client.mu.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": len(h.clients),
				"methods":      methods,
				"user_id":      userID,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"client_count": len(h.clients),
			}).Info("Client disconnected")

		case message := <-h.broadcast:
			h.routeMessage(message)
		}
	}
}

// routeMessage delivers a message to every client it is addressed to
func (h *Hub) routeMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger.WithError(err).Error("Failed to unmarshal broadcast message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if !client.wantsMessage(&msg) {
			continue
		}

		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// wantsMessage decides whether a client should receive a message
func (c *Client) wantsMessage(msg *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	subscribed := false
	for _, method := range c.methods {
		if method == msg.Method || method == "all" {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return false
	}

	// User-targeted messages only reach the matching user
	if msg.UserID != nil {
		return c.userID != nil && *c.userID == *msg.UserID
	}

	// Team-scoped broadcasts only reach clients of the same team
	if msg.TeamID != nil {
		return c.teamID != nil && *c.teamID == *msg.TeamID
	}

	return true
}

// SendToUser pushes a payload to every connection identified as the user
func (h *Hub) SendToUser(userID, method string, data map[string]interface{}) {
	h.enqueue(Message{
		Method:    method,
		Data:      data,
		Timestamp: time.Now().UTC(),
		UserID:    &userID,
	})
}

// SendToTeam pushes a payload to every connection of one team
func (h *Hub) SendToTeam(teamID, method string, data map[string]interface{}) {
	h.enqueue(Message{
		Method:    method,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TeamID:    &teamID,
	})
}

// SendToAll broadcasts a payload to every subscribed connection
func (h *Hub) SendToAll(method string, data map[string]interface{}) {
	h.enqueue(Message{
		Method:    method,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) enqueue(message Message) {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal hub message")
		return
	}

	select {
	case h.broadcast <- messageJSON:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	methodStats := make(map[string]int)
	for client := range h.clients {
		client.mu.Lock()
		for _, method := range client.methods {
			methodStats[method]++
		}
		client.mu.Unlock()
	}

	return map[string]interface{}{
		"total_clients":        len(h.clients),
		"method_subscriptions": methodStats,
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		methods: []string{}, // No subscriptions initially
		logger:  h.logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.WithError(err).Warn("Invalid subscription message")
			continue
		}

		c.handleSubscription(&subMsg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain any queued messages into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests
func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	switch msg.Action {
	case "subscribe":
		c.mu.Lock()
		c.methods = append(c.methods, msg.Methods...)
		if msg.UserID != nil {
			c.userID = msg.UserID
		}
		if msg.TeamID != nil {
			c.teamID = msg.TeamID
		}
		methods := append([]string(nil), c.methods...)
		c.mu.Unlock()

		c.logger.WithFields(logging.Fields{
			"methods": msg.Methods,
			"user_id": msg.UserID,
			"team_id": msg.TeamID,
		}).Info("Client subscribed to methods")

		c.sendMessage(map[string]interface{}{
			"type":    "subscription_confirmed",
			"methods": methods,
		})

	case "unsubscribe":
		c.mu.Lock()
		for _, method := range msg.Methods {
			for i, existing := range c.methods {
				if existing == method {
					c.methods = append(c.methods[:i], c.methods[i+1:]...)
					break
				}
			}
		}
		methods := append([]string(nil), c.methods...)
		c.mu.Unlock()

		c.logger.WithFields(logging.Fields{
			"unsubscribed": msg.Methods,
			"remaining":    methods,
		}).Info("Client unsubscribed from methods")

		c.sendMessage(map[string]interface{}{
			"type":    "unsubscription_confirmed",
			"methods": methods,
		})
	}
}

// sendMessage sends a control message to the client
func (c *Client) sendMessage(data map[string]interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client message")
		return
	}

	select {
	case c.send <- message:
	default:
		close(c.send)
	}
}
