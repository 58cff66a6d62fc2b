package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/playrooms/backend/internal/admin"
	"github.com/playrooms/backend/internal/auth"
	"github.com/playrooms/backend/internal/config"
)

const playerTokenTTL = 24 * time.Hour

// MintToken issues a player JWT for a caller that already passed the API-key
// check. Operators normally mint game tokens from their own backend; this is
// the built-in issuer for integrations and development.
func MintToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   string `json:"userId" binding:"required"`
			Username string `json:"username"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
			return
		}

		userID := strings.TrimSpace(req.UserID)
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
			return
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			username = userID
		}

		token, err := auth.Mint(cfg.JWTSecret, auth.Identity{
			UserID:   userID,
			Username: username,
			Role:     auth.RolePlayer,
		}, playerTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": int(playerTokenTTL.Seconds())})
	}
}

// AdminLogin validates operator credentials and returns an admin JWT.
func AdminLogin(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}

		username := strings.TrimSpace(req.Username)
		user, err := admin.Authenticate(db, username, req.Password)
		if err != nil {
			log.Printf("[ADMIN] Login failed for username %s", username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		ttl := time.Duration(cfg.SessionTimeoutMin) * time.Minute
		token, err := auth.Mint(cfg.JWTSecret, auth.Identity{
			UserID:   strconv.Itoa(user.ID),
			Username: user.Username,
			Role:     user.Role,
		}, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint token"})
			return
		}

		admin.LogAction(db, user.ID, "login", map[string]any{"ip": c.ClientIP()})
		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"expiresIn": int(ttl.Seconds()),
			"username":  user.Username,
		})
	}
}
