package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub tracks this instance's live connections: per-user connection sets and
// per-room subscriber groups. Clients not subscribed to any room form the
// lobby. Cross-instance delivery rides the Redis fan-out in redis.go; the
// hub only ever writes to local sockets.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes connection registration. Call once in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.userID]; !ok {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			h.mu.Unlock()
			log.Printf("[WS] User %s connected", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.userID]; ok {
				if _, present := conns[client]; present {
					delete(conns, client)
					if len(conns) == 0 {
						delete(h.clients, client.userID)
					}
					if client.room != "" {
						h.dropFromRoom(client, client.room)
					}
					close(client.send)
					log.Printf("[WS] User %s disconnected", client.userID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe moves the client into a room group, leaving any previous one.
func (h *Hub) Subscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room == roomID {
		return
	}
	if c.room != "" {
		h.dropFromRoom(c, c.room)
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	c.room = roomID
}

// Unsubscribe returns the client to the lobby.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room != "" {
		h.dropFromRoom(c, c.room)
	}
	c.spectating = false
}

// dropFromRoom removes the client from a room group. Caller holds h.mu.
func (h *Hub) dropFromRoom(c *Client, roomID string) {
	if group, ok := h.rooms[roomID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.rooms, roomID)
		}
	}
	c.room = ""
}

// RoomOf returns the room group the client currently belongs to.
func (h *Hub) RoomOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.room
}

// MarkSpectating flags whether the client sits in its room group as a
// spectator rather than a seated player.
func (h *Hub) MarkSpectating(c *Client, v bool) {
	h.mu.Lock()
	c.spectating = v
	h.mu.Unlock()
}

func (h *Hub) IsSpectating(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.spectating
}

// BroadcastRawToRoom delivers pre-marshaled bytes to every local subscriber
// of the room.
func (h *Hub) BroadcastRawToRoom(roomID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] Send buffer full for user %s in room %s, dropping message", client.userID, roomID)
		}
	}
}

// BroadcastToRoom marshals and delivers to every local subscriber.
func (h *Hub) BroadcastToRoom(roomID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal broadcast failed: %v", err)
		return
	}
	h.BroadcastRawToRoom(roomID, data)
}

// BroadcastRawToLobby delivers to every local client outside any room.
func (h *Hub) BroadcastRawToLobby(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for client := range conns {
			if client.room != "" {
				continue
			}
			select {
			case client.send <- data:
			default:
				log.Printf("[WS] Lobby send buffer full for user %s, dropping message", client.userID)
			}
		}
	}
}

// SendRawToUser delivers to every local connection of one user.
func (h *Hub) SendRawToUser(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] Send buffer full for user %s, dropping message", userID)
		}
	}
}

// SendToUser marshals and delivers to every local connection of one user.
func (h *Hub) SendToUser(userID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Marshal send failed: %v", err)
		return
	}
	h.SendRawToUser(userID, data)
}
