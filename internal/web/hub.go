package web

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fablecast/server/internal/interfaces"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxInboundSize = 4096
)

// Client is one websocket connection watching a session.
type Client struct {
	ID        string
	SessionID string
	PlayerID  string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub

	mu     sync.Mutex
	closed bool
}

// Hub fans engine deliveries out to the clients watching each session.
// It implements the text channel's Publisher contract.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// onInput receives player inputs parsed off client connections.
	onInput func(interfaces.PlayerInput)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
	}
}

// SetInputSink routes inbound player inputs; typically the text
// adapter's Inject.
func (h *Hub) SetInputSink(fn func(interfaces.PlayerInput)) {
	h.mu.Lock()
	h.onInput = fn
	h.mu.Unlock()
}

// Run drives client registration until the register channel closes.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[client.SessionID]
	if !ok {
		clients = make(map[*Client]bool)
		h.sessions[client.SessionID] = clients
	}
	clients[client] = true
	log.Printf("[Hub] Client %s connected to session %s (%d watching)", client.ID, client.SessionID, len(clients))

	go client.writePump()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[client.SessionID]
	if !ok {
		return
	}
	if _, present := clients[client]; present {
		delete(clients, client)
		close(client.Send)
		if len(clients) == 0 {
			delete(h.sessions, client.SessionID)
		}
		log.Printf("[Hub] Client %s disconnected from session %s", client.ID, client.SessionID)
	}
}

// Publish implements channels.Publisher: the payload goes to every
// client watching the session. A session nobody watches is an error so
// the delivery shows up as failed instead of vanishing.
func (h *Hub) Publish(sessionID string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.sessions[sessionID]
	if len(clients) == 0 {
		return fmt.Errorf("no connected clients for session %s", sessionID)
	}

	for client := range clients {
		select {
		case client.Send <- data:
		default:
			log.Printf("[Hub] Client %s send buffer full, dropping frame", client.ID)
		}
	}
	return nil
}

// Watchers reports how many clients watch a session.
func (h *Hub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) dispatchInput(input interfaces.PlayerInput) {
	h.mu.RLock()
	sink := h.onInput
	h.mu.RUnlock()
	if sink != nil {
		sink(input)
	}
}

// writePump pushes hub frames to the socket and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[Hub] Write to client %s failed: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses player inputs off the socket and hands them to the
// hub's sink until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(maxInboundSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var input interfaces.PlayerInput
		if err := c.Conn.ReadJSON(&input); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] Unexpected close from client %s: %v", c.ID, err)
			}
			break
		}
		input.SessionID = c.SessionID
		if input.PlayerID == "" {
			input.PlayerID = c.PlayerID
		}
		if input.Timestamp == 0 {
			input.Timestamp = time.Now().Unix()
		}
		c.Hub.dispatchInput(input)
	}
}

// Close shuts the connection down once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.Conn.Close()
}
