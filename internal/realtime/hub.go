package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types exchanged with dashboard clients
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEvent       = "event"
	TypeError       = "error"
	TypePong        = "pong"
)

// Message is one WebSocket frame
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Client is one connected dashboard session
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket sessions and topic subscriptions
type Hub struct {
	clients    map[*Client]bool
	topics     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	mu         sync.RWMutex
	stopCh     chan struct{}
}

type broadcastMessage struct {
	topic   string
	message *Message
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToTopic(msg)
		}
	}
}

// Stop stops the hub and closes every session
func (h *Hub) Stop() {
	close(h.stopCh)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
	h.topics = make(map[string]map[*Client]bool)
}

// Publish implements Broadcaster: the payload goes to every client
// subscribed to the topic
func (h *Hub) Publish(topic string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		log.Printf("realtime: failed to encode payload for %s: %v", topic, err)
		return
	}

	msg := &Message{
		Type:      TypeEvent,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- &broadcastMessage{topic: topic, message: msg}:
	default:
		// Broadcast buffer full, drop
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for topic := range client.subscriptions {
		if clients, ok := h.topics[topic]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

func (h *Hub) broadcastToTopic(msg *broadcastMessage) {
	data, err := json.Marshal(msg.message)
	if err != nil {
		log.Printf("realtime: failed to marshal broadcast message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[msg.topic] {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true

	client.mu.Lock()
	client.subscriptions[topic] = true
	client.mu.Unlock()
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.topics[topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.topics, topic)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, topic)
	client.mu.Unlock()
}

// Stats returns session and subscription counts
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topicStats := make(map[string]int)
	for topic, clients := range h.topics {
		topicStats[topic] = len(clients)
	}

	return map[string]interface{}{
		"totalClients": len(h.clients),
		"totalTopics":  len(h.topics),
		"topicClients": topicStats,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a WebSocket session and starts the
// client's read/write pumps
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed: %v", err)
		return
	}

	client := &Client{
		ID:            uuid.New().String(),
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: websocket error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type  string `json:"type"`
		Topic string `json:"topic"`
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if !validTopic(msg.Topic) {
			c.sendError("unknown topic")
			return
		}
		c.hub.Subscribe(c, msg.Topic)
		c.sendAck("subscribed", msg.Topic)

	case TypeUnsubscribe:
		c.hub.Unsubscribe(c, msg.Topic)
		c.sendAck("unsubscribed", msg.Topic)

	case "ping":
		c.sendJSON(&Message{Type: TypePong, Timestamp: time.Now().UTC()})

	default:
		c.sendError("unknown message type")
	}
}

func validTopic(topic string) bool {
	prefix, _, _ := strings.Cut(topic, ":")
	switch prefix {
	case TopicReadings, TopicAlerts, TopicRisk:
		return true
	}
	return false
}

func (c *Client) sendError(errMsg string) {
	c.sendJSON(&Message{Type: TypeError, Error: errMsg, Timestamp: time.Now().UTC()})
}

func (c *Client) sendAck(action, topic string) {
	c.sendJSON(map[string]interface{}{
		"type":      "ack",
		"action":    action,
		"topic":     topic,
		"timestamp": time.Now().UTC(),
	})
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
