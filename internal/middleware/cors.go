package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/playrooms/backend/internal/config"
)

// allowedOrigins returns the browser origins that may call the API with
// credentials. Development allows the Vite dev server addresses so local
// frontends work without configuration.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return []string{cfg.FrontendURL}
}

// originAllowed applies the same policy to a raw Origin header, for the
// WebSocket path where gin-contrib/cors never runs.
func originAllowed(cfg *config.Config, origin string) bool {
	if cfg.Environment == "development" {
		return strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:")
	}
	return origin == cfg.FrontendURL
}

// CORSMiddleware configures cross-origin access for the REST surface.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := allowedOrigins(cfg)
	log.Printf("[CORS] %s origins: %v", cfg.Environment, origins)

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// WebSocketCORSCheck validates upgrade origins before the handler runs; the
// upgrader itself then accepts any origin.
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		isUpgrade := strings.ToLower(c.GetHeader("Upgrade")) == "websocket" &&
			strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade")
		if !isUpgrade {
			c.Next()
			return
		}

		// Non-browser clients carry no Origin; the token query param is
		// their credential.
		origin := c.GetHeader("Origin")
		if origin != "" && !originAllowed(cfg, origin) {
			log.Printf("[CORS] Rejected WS origin %s", origin)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "WebSocket origin not allowed"})
			return
		}
		c.Next()
	}
}
