package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xuanvinh1997/open-term/internal/rdp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the gateway sits behind the deployment's own auth
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocket message types
type WSMessageType string

const (
	// Client -> Server
	WSMsgInput WSMessageType = "input"

	// Server -> Client
	WSMsgFrame  WSMessageType = "frame"
	WSMsgError  WSMessageType = "error"
	WSMsgClosed WSMessageType = "closed"
)

// WSMessage is the WebSocket message envelope
type WSMessage struct {
	Type      WSMessageType   `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// InputFunc forwards decoded input events to a session.
type InputFunc func(sessionID string, events []rdp.InputEvent) error

// Hub fans session events out to WebSocket subscribers. It implements
// session.EventSink; frame marshalling happens once per update, not per
// subscriber.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}

	metrics *Metrics
	input   InputFunc
}

func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		metrics: metrics,
	}
}

// BindInput wires the session input path. Set once during startup,
// before any client connects.
func (h *Hub) BindInput(fn InputFunc) { h.input = fn }

// FrameUpdate implements session.EventSink.
func (h *Hub) FrameUpdate(sessionID string, frame rdp.FrameUpdate) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("ws: marshal frame for session %s: %v", sessionID, err)
		return
	}
	h.metrics.FramesEmitted.WithLabelValues(frame.Type).Inc()
	h.metrics.FrameBytes.Add(float64(len(payload)))
	h.broadcast(sessionID, WSMessage{Type: WSMsgFrame, SessionID: sessionID, Payload: payload})
}

// SessionError implements session.EventSink.
func (h *Hub) SessionError(sessionID string, err error) {
	h.metrics.SessionErrors.Inc()
	h.broadcast(sessionID, WSMessage{
		Type:      WSMsgError,
		SessionID: sessionID,
		Payload:   jsonRaw(map[string]string{"error": err.Error()}),
	})
}

// SessionClosed implements session.EventSink.
func (h *Hub) SessionClosed(sessionID string) {
	h.broadcast(sessionID, WSMessage{Type: WSMsgClosed, SessionID: sessionID})
}

func (h *Hub) broadcast(sessionID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[sessionID] {
		c.enqueue(data)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c.sessionID]
	if !ok {
		subs = make(map[*wsClient]struct{})
		h.clients[c.sessionID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[c.sessionID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, c.sessionID)
		}
	}
}

// wsClient represents a connected WebSocket client
type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte

	mu     sync.Mutex
	closed bool
}

// HandleWS upgrades the connection and subscribes it to the session
// named by the session_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	client := &wsClient{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("ws: invalid message: %v", err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *wsClient) handleMessage(msg WSMessage) {
	switch msg.Type {
	case WSMsgInput:
		var events []rdp.InputEvent
		if err := json.Unmarshal(msg.Payload, &events); err != nil {
			log.Printf("ws: invalid input payload: %v", err)
			return
		}
		if c.hub.input == nil {
			return
		}
		if err := c.hub.input(c.sessionID, events); err != nil {
			c.enqueue(mustJSON(WSMessage{
				Type:      WSMsgError,
				SessionID: c.sessionID,
				Payload:   jsonRaw(map[string]string{"error": err.Error()}),
			}))
			return
		}
		c.hub.metrics.InputEvents.Add(float64(len(events)))
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// enqueue hands data to the write pump without blocking; a client that
// cannot keep up is dropped.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func jsonRaw(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func mustJSON(msg WSMessage) []byte {
	data, _ := json.Marshal(msg)
	return data
}
