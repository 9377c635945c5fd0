package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marginbook/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// Message is the frame pushed to websocket clients.
type Message struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

// Hub maintains active WebSocket connections and broadcasts events
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	stopped bool
}

// Client is one websocket connection. A client with a market filter only
// receives that market's events plus account events.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	market string
	types  map[events.Type]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.clients[client] = true
	return true
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends e to every interested client. Slow clients miss events.
func (h *Hub) Broadcast(e events.Event) {
	data, err := json.Marshal(Message{Type: e.Type().String(), Event: e})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(e) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Run broadcasts the events of sub until ctx is done or sub is closed.
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			h.Broadcast(e)
		}
	}
}

// Stop disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (c *Client) wants(e events.Event) bool {
	if len(c.types) > 0 && !c.types[e.Type()] {
		return false
	}
	if c.market != "" && e.MarketID() != "" && e.MarketID() != c.market {
		return false
	}
	return true
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
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

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// clients only listen; anything they send is discarded
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
