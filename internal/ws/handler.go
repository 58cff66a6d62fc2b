package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/playrooms/backend/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by middleware.WebSocketCORSCheck before
		// the upgrade, so the upgrader itself accepts everything.
		return true
	},
}

// HandleWebSocket upgrades `/ws?token=JWT` connections. The token is minted
// by the operator's issuer (or the built-in auth endpoint); the connection
// cap and the grace reclaim run before the client sees any traffic.
func HandleWebSocket(d *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		id, err := auth.Parse(d.cfg.JWTSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error: %v", err)
			return
		}

		ctx := context.Background()
		n, err := d.reg.IncrConnections(ctx, id.UserID)
		if err == nil && d.cfg.MaxConnectionsPerUser > 0 && n > int64(d.cfg.MaxConnectionsPerUser) {
			d.reg.DecrConnections(ctx, id.UserID)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
				time.Now().Add(time.Second))
			conn.Close()
			log.Printf("[WS] User %s over connection cap, refused", id.UserID)
			return
		}

		client := newClient(d.hub, conn, id.UserID, id.Username)
		d.hub.register <- client

		go client.writePump()
		go client.readPump(d)

		d.handleConnect(client)
	}
}
