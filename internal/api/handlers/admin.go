package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/playrooms/backend/internal/admin"
	"github.com/playrooms/backend/internal/archive"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/middleware"
	"github.com/playrooms/backend/internal/models"
)

// adminID pulls the numeric operator id out of the JWT identity.
func adminID(c *gin.Context) int {
	id, _ := strconv.Atoi(c.GetString(middleware.CtxUserID))
	return id
}

// GetSettings returns every runtime setting.
func GetSettings(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := admin.AllSettings(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": settings})
	}
}

// UpdateSettings upserts one runtime setting.
func UpdateSettings(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key   string `json:"key" binding:"required"`
			Value string `json:"value" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key and value required"})
			return
		}

		key := strings.TrimSpace(req.Key)
		value := strings.TrimSpace(req.Value)
		if err := admin.UpsertSetting(db, key, value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		admin.LogAction(db, adminID(c), "settings.update", map[string]any{"key": key, "value": value})
		c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
	}
}

// AdjustWallet credits or debits a player wallet by operator decision.
func AdjustWallet(db *sqlx.DB, econ *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		var req struct {
			Amount         int64  `json:"amount" binding:"required"`
			Reason         string `json:"reason"`
			IdempotencyKey string `json:"idempotencyKey"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "non-zero amount required"})
			return
		}

		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "admin adjustment"
		}
		key := strings.TrimSpace(req.IdempotencyKey)
		if key == "" {
			key = "admin-adjust:" + uuid.NewString()
		}

		res, err := econ.ProcessAdminAdjust(c.Request.Context(), userID, req.Amount, reason, "", key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "adjustment failed"})
			return
		}
		if res.Code != economy.Ok && res.Code != economy.Duplicate {
			c.JSON(http.StatusConflict, gin.H{"error": res.Code.String()})
			return
		}

		admin.LogAction(db, adminID(c), "wallet.adjust", map[string]any{
			"userId": userID,
			"amount": req.Amount,
			"reason": reason,
			"result": res.Code.String(),
		})
		c.JSON(http.StatusOK, gin.H{"userId": userID, "balance": res.BalanceAfter, "result": res.Code.String()})
	}
}

// GetWalletAccount shows one player's wallet row for support inspection.
func GetWalletAccount(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		var acct models.WalletAccount
		err := db.Get(&acct, `
			SELECT user_id, coins, version, is_deleted, created_at, updated_at
			FROM wallet_accounts WHERE user_id = $1`, userID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no wallet for user"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
			return
		}
		c.JSON(http.StatusOK, acct)
	}
}

// GetRoomSnapshot returns the last durable snapshot of a room. Snapshots land
// on a coarse interval, so this is a post-mortem view, not live state.
func GetRoomSnapshot(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		var snap models.RoomSnapshot
		err := db.Get(&snap, `
			SELECT room_id, game_type, state, meta, saved_at
			FROM room_snapshots WHERE room_id = $1`, roomID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for room"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":     snap.RoomID,
			"gameType":   snap.GameType,
			"meta":       snap.Meta,
			"stateBytes": len(snap.State),
			"savedAt":    snap.SavedAt,
		})
	}
}

// ListArchives returns recently archived games for the admin console.
func ListArchives(arc *archive.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType := strings.TrimSpace(c.Query("game"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		games, err := arc.Recent(c.Request.Context(), gameType, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load archives"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"archives": games})
	}
}

// ListAudit returns the admin action trail, newest first.
func ListAudit(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		entries, err := admin.RecentAudit(db, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit log"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit": entries})
	}
}
