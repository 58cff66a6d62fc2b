package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playrooms/backend/internal/auth"
	"github.com/playrooms/backend/internal/config"
)

// Context keys set by RequireAuth.
const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxRole     = "role"
)

// RequireAuth validates the bearer JWT and stores the caller's identity in
// the request context.
func RequireAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		ident, err := auth.Parse(cfg.JWTSecret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUserID, ident.UserID)
		c.Set(CtxUsername, ident.Username)
		c.Set(CtxRole, ident.Role)
		c.Next()
	}
}

// RequireAdmin allows only tokens carrying the admin role. Runs after
// RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRole) != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// RequireAPIKey gates server-to-server endpoints on the X-API-Key header.
func RequireAPIKey(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.EnforceAPIKeyValidation {
			c.Next()
			return
		}
		if len(cfg.APIKey) < cfg.MinAPIKeyLength {
			log.Printf("[AUTH] Configured API key is shorter than %d chars; rejecting keyed requests", cfg.MinAPIKeyLength)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "api key not configured"})
			return
		}
		key := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

// RequireHTTPS rejects plain-HTTP requests outside development. Proxied
// deployments terminate TLS upstream, so the forwarded proto header counts.
func RequireHTTPS(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RequireHTTPS || cfg.Environment == "development" {
			c.Next()
			return
		}
		if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
			c.AbortWithStatusJSON(http.StatusUpgradeRequired, gin.H{"error": "https required"})
			return
		}
		c.Next()
	}
}
