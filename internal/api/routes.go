package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/api/handlers"
	"github.com/playrooms/backend/internal/archive"
	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/middleware"
	"github.com/playrooms/backend/internal/registry"
	"github.com/playrooms/backend/internal/ws"
)

// SetupRoutes wires middleware and every HTTP route.
func SetupRoutes(router *gin.Engine, db *sqlx.DB, rdb *redis.Client, cfg *config.Config, d *ws.Dispatcher, reg *registry.RoomRegistry, econ *economy.Service, arc *archive.Service) {
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.Metrics())
	router.Use(middleware.RequireHTTPS(cfg))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/auth/token", middleware.RequireAPIKey(cfg), handlers.MintToken(cfg))

		api.GET("/templates", handlers.ListTemplates(db))
		api.GET("/rooms", handlers.ListRooms(reg))
		api.GET("/rooms/:id", handlers.GetRoom(reg))

		wallet := api.Group("/wallet", middleware.RequireAuth(cfg))
		{
			wallet.GET("", handlers.GetWallet(econ))
			wallet.GET("/transactions", handlers.GetWalletTransactions(econ))
		}

		adm := api.Group("/admin")
		{
			adm.POST("/login", handlers.AdminLogin(db, cfg))

			secured := adm.Group("", middleware.RequireAuth(cfg), middleware.RequireAdmin())
			{
				secured.GET("/settings", handlers.GetSettings(db))
				secured.PUT("/settings", handlers.UpdateSettings(db))
				secured.GET("/wallets/:userId", handlers.GetWalletAccount(db))
			secured.POST("/wallets/:userId/adjust", handlers.AdjustWallet(db, econ))
			secured.GET("/snapshots/:roomId", handlers.GetRoomSnapshot(db))
				secured.GET("/archives", handlers.ListArchives(arc))
				secured.GET("/audit", handlers.ListAudit(db))
			}
		}
	}

	router.GET("/ws", middleware.WebSocketCORSCheck(cfg), ws.HandleWebSocket(d))
}
