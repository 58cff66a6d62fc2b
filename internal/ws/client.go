package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBufferSize = 256
)

// WSMessage is the wire envelope in both directions.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection of one authenticated user. room and
// spectating are guarded by the hub's mutex.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	userID   string
	username string

	room       string
	spectating bool

	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		userID:   userID,
		username: username,
		send:     make(chan []byte, sendBufferSize),
	}
}

// readPump reads client messages and hands them to the dispatcher. It owns
// the connection teardown: hub removal first, then the registry-side
// disconnect bookkeeping.
func (c *Client) readPump(d *Dispatcher) {
	defer func() {
		c.hub.unregister <- c
		d.handleDisconnect(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for user %s: %v", c.userID, err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("BadRequest", "malformed message")
			continue
		}
		d.Handle(c, msg)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings.
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
				// Channel closed: connection is being cleaned up. Best-effort
				// close frame; conn may already be gone.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for user %s: %v", c.userID, err)
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

// sendJSON queues a message on this connection only.
func (c *Client) sendJSON(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal reply failed for user %s: %v", c.userID, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[WS] Reply buffer full for user %s, dropping message", c.userID)
	}
}

// sendError reports a categorized failure to this connection only.
func (c *Client) sendError(code, message string) {
	c.sendJSON(map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}
