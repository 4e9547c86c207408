package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is the envelope for both directions. Inbound messages carry
// subscribe/unsubscribe commands keyed by execution id; outbound messages
// carry node execution events.
type wsMessage struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"executionId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
}

// Client is one WebSocket connection with its subscriptions.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
	hub      *Hub
}

// subscription is a subscribe or unsubscribe command routed through the
// hub loop so channel maps are only touched from one goroutine.
type subscription struct {
	client  *Client
	channel string
	add     bool
}

// Hub fans node execution events out to subscribed WebSocket clients.
type Hub struct {
	log           logger.Logger
	clients       map[*Client]bool
	channels      map[string]map[*Client]bool
	broadcast     chan *wsMessage
	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:           log,
		clients:       make(map[*Client]bool),
		channels:      make(map[string]map[*Client]bool),
		broadcast:     make(chan *wsMessage, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		done:          make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			for ch := range client.channels {
				h.subscribe(client, ch)
			}
		case client := <-h.unregister:
			h.removeClient(client)
		case sub := <-h.subscriptions:
			if _, ok := h.clients[sub.client]; !ok {
				break
			}
			if sub.add {
				h.subscribe(sub.client, sub.channel)
			} else {
				h.unsubscribe(sub.client, sub.channel)
			}
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-h.done:
			for client := range h.clients {
				h.removeClient(client)
			}
			return
		}
	}
}

// Stop shuts the hub down and closes all connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
}

// BroadcastNodeExecution publishes a node execution record to subscribers
// of its execution. Safe to call from the tracker writer; drops when the
// hub is saturated.
func (h *Hub) BroadcastNodeExecution(rec *execution.NodeExecution) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	msg := &wsMessage{
		Type:        "node_execution",
		ExecutionID: rec.ExecutionID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("websocket broadcast dropped", "execution_id", rec.ExecutionID)
	}
}

func (h *Hub) subscribe(client *Client, channel string) {
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.channels[channel] = true
}

func (h *Hub) unsubscribe(client *Client, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.channels, channel)
}

func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for ch := range client.channels {
		h.unsubscribe(client, ch)
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) deliver(msg *wsMessage) {
	subs, ok := h.channels[msg.ExecutionID]
	if !ok {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for client := range subs {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop the connection rather than block.
			h.removeClient(client)
		}
	}
}

// WSHandler upgrades HTTP connections and attaches them to the hub.
type WSHandler struct {
	hub *Hub
	log logger.Logger
}

// NewWSHandler creates a WebSocket handler.
func NewWSHandler(hub *Hub, log logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// ServeHTTP upgrades the connection. An execution_id query parameter
// pre-subscribes the client.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       uuid.New().String(),
		conn:     conn,
		send:     make(chan []byte, 64),
		channels: make(map[string]bool),
		hub:      h.hub,
	}
	if executionID := r.URL.Query().Get("execution_id"); executionID != "" {
		client.channels[executionID] = true
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ExecutionID == "" {
			continue
		}
		switch msg.Type {
		case "subscribe", "unsubscribe":
			select {
			case c.hub.subscriptions <- subscription{client: c, channel: msg.ExecutionID, add: msg.Type == "subscribe"}:
			case <-c.hub.done:
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
