package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/middleware"
)

// GetWallet returns the caller's coin balance.
func GetWallet(econ *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.CtxUserID)
		coins, err := econ.Balance(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": userID, "coins": coins})
	}
}

// GetWalletTransactions returns the caller's newest ledger entries.
func GetWalletTransactions(econ *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.CtxUserID)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		txs, err := econ.Transactions(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs})
	}
}
