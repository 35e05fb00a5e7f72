// Package main provides the WebSocket fan-out for sync events (desktop only).
package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwei-lin/notecove/backend/internal/sync/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge serves the local UI process only.
		host := r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
		return host == "localhost" || host == "127.0.0.1" || host == "::1"
	},
}

// WSClient represents one connected UI window.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[events.Type]bool
}

// wantsEvent reports whether the client subscribed to this event type.
// A client with no explicit subscriptions receives everything.
func (c *WSClient) wantsEvent(t events.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[t]
}

// wsMessage is a marshalled event paired with its type so the hub can
// filter per client without re-parsing.
type wsMessage struct {
	eventType events.Type
	payload   []byte
}

// WSHub fans sync engine events out to connected clients. It implements
// events.Notifier, so it plugs directly into the queue and reconciler.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a hub and starts its dispatch loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and event dispatch.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (total: %d)", client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] Client disconnected: %s (total: %d)", client.id, total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wantsEvent(message.eventType) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Send buffer full, the client stopped reading.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements events.Notifier. Events arrive on queue and
// reconciler goroutines; marshalling happens here, fan-out in run.
func (h *WSHub) Publish(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to marshal %s event: %v", event.Type, err)
		return
	}

	select {
	case h.broadcast <- wsMessage{eventType: event.Type, payload: payload}:
	default:
		log.Printf("[WS] Broadcast buffer full, dropped %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump pumps control messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WS] Invalid message format: %v", err)
			continue
		}

		action, ok := msg["action"].(string)
		if !ok {
			continue
		}

		switch action {
		case "subscribe":
			if types, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range types {
					if eventStr, ok := e.(string); ok {
						c.subscriptions[events.Type(eventStr)] = true
					}
				}
				c.mu.Unlock()
				c.sendAck("subscribe_ack", types)
			}

		case "unsubscribe":
			if types, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range types {
					if eventStr, ok := e.(string); ok {
						delete(c.subscriptions, events.Type(eventStr))
					}
				}
				c.mu.Unlock()
			}

		case "ping":
			c.sendPong()
		}
	}
}

// writePump pumps events to the WebSocket connection.
func (c *WSClient) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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

// sendAck sends a subscription acknowledgment.
func (c *WSClient) sendAck(action string, types []interface{}) {
	envelope := map[string]interface{}{
		"action":     action,
		"subscribed": types,
		"timestamp":  time.Now().UnixMilli(),
	}

	bytes, _ := json.Marshal(envelope)
	c.send <- bytes
}

// sendPong sends a pong response.
func (c *WSClient) sendPong() {
	envelope := map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().UnixMilli(),
	}

	bytes, _ := json.Marshal(envelope)
	c.send <- bytes
}

// HandleWebSocket upgrades the connection and registers the client.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Failed to upgrade: %v", err)
			return
		}

		clientID := time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr

		client := &WSClient{
			id:            clientID,
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[events.Type]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
