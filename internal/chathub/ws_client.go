package chathub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"chatverse/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// WebSocketClient is one authenticated device connection. It implements the
// chathub.Client interface over a gorilla/websocket connection.
type WebSocketClient struct {
	User *models.User
	Conn *websocket.Conn
	Hub  *Hub

	mu     sync.Mutex
	closed bool
	send   chan models.ServerEvent
}

// NewWebSocketClient binds a freshly-upgraded connection to its resolved
// identity.
func NewWebSocketClient(hub *Hub, user *models.User, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		User: user,
		Conn: conn,
		Hub:  hub,
		send: make(chan models.ServerEvent, sendBufferSize),
	}
}

func (c *WebSocketClient) GetUserID() string { return c.User.ID }

// Send queues an event for the write pump. The closed flag is checked under
// the same mutex Close takes, so a late caller gets false instead of a send
// on a closed channel.
func (c *WebSocketClient) Send(ev models.ServerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops delivery; the write pump exits on the closed channel and the
// read pump exits when the connection is closed in its defer.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads client frames and routes them through the hub's action
// handler. Disconnect, however it happens, funnels through the defer: the
// hub drops every room membership and the presence count before the pump
// goroutine finishes.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var act models.ClientAction
		if err := json.Unmarshal(message, &act); err != nil {
			log.Printf("Error decoding frame from user %s: %v", c.User.ID, err)
			c.Hub.ack(c, "", models.Ack{OK: false, Error: "malformed frame"})
			continue
		}

		c.Hub.HandleAction(c, act)
	}
}

// writePump drains the send channel into the connection and keeps the
// connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by the hub, close the WS connection
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Error encoding event for user %s: %v", c.User.ID, err)
				continue
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Flush whatever else is already queued
			n := len(c.send)
			for i := 0; i < n; i++ {
				next := <-c.send
				extra, err := json.Marshal(next)
				if err != nil {
					continue
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
