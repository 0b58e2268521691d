package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/virtuallab/labsync/internal/connectivity"
	"github.com/virtuallab/labsync/internal/logging"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
	"github.com/virtuallab/labsync/internal/uuid"
)

// EventConnectivityChanged is pushed on every reachability transition. Sync
// events use the engine's own type names.
const EventConnectivityChanged = "connectivity.changed"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin allows non-browser clients and pages served from this host.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"` // ms since epoch
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client asked for eventType. A client with no
// subscriptions receives everything.
func (c *WSClient) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan WSEnvelope
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logging.Logger
}

// NewWSHub creates a hub. Call Run to start delivering messages.
func NewWSHub(logger *logging.Logger) *WSHub {
	if logger == nil {
		logger = logging.Get()
	}
	return &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan WSEnvelope, sendBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		logger:     logger.With(map[string]interface{}{"component": "ws_hub"}),
	}
}

// Run manages client connections and broadcasts until ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client connected", map[string]interface{}{"client": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", map[string]interface{}{"client": client.id, "total": total})

		case envelope := <-h.broadcast:
			h.deliver(envelope)
		}
	}
}

func (h *WSHub) deliver(envelope WSEnvelope) {
	message, err := gojson.Marshal(envelope)
	if err != nil {
		h.logger.Warn("Failed to marshal message", map[string]interface{}{"type": envelope.Type, "error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		if !client.wants(envelope.Type) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Slow consumer; drop it rather than stall the hub.
			close(client.send)
			delete(h.clients, id)
			h.logger.Warn("Dropping slow client", map[string]interface{}{"client": id})
		}
	}
}

// Broadcast queues a message for every subscribed client. It never blocks;
// messages are dropped when the hub is backed up.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case h.broadcast <- envelope:
	default:
		h.logger.Warn("Broadcast buffer full, dropping message", map[string]interface{}{"type": messageType})
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnSyncEvent forwards engine events to clients.
func (h *WSHub) OnSyncEvent(ev syncpkg.SyncEvent) {
	data := map[string]interface{}{}
	if ev.ActionID != "" {
		data["action_id"] = ev.ActionID
		data["kind"] = string(ev.Kind)
	}
	if ev.Code != "" {
		data["code"] = ev.Code
	}
	if ev.Message != "" {
		data["message"] = ev.Message
	}
	if r := ev.Result; r != nil {
		data["success"] = r.Success
		data["synced_items"] = r.SyncedItems
		data["remaining_items"] = r.RemainingItems
		data["failed_items"] = len(r.PermanentFailures)
		data["aborted"] = r.Aborted
		data["duration"] = r.Duration.Milliseconds()
	}
	h.Broadcast(string(ev.Type), data)
}

// OnConnectivity forwards a reachability transition to clients.
func (h *WSHub) OnConnectivity(ev connectivity.Event) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"online": ev.Online,
	})
}

// clientMessage is what clients send to the hub.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := gojson.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("Invalid message format", map[string]interface{}{"client": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[strings.TrimSpace(e)] = true
			}
			c.mu.Unlock()
			c.reply("subscribe_ack", map[string]interface{}{"subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, strings.TrimSpace(e))
			}
			c.mu.Unlock()

		case "ping":
			c.reply("pong", nil)
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// reply answers a client request directly, bypassing subscriptions.
func (c *WSClient) reply(action string, fields map[string]interface{}) {
	envelope := map[string]interface{}{
		"action":    action,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range fields {
		envelope[k] = v
	}
	msg, err := gojson.Marshal(envelope)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// HandleWebSocket upgrades the request and attaches the client to hub.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("Failed to upgrade", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, sendBuffer),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
