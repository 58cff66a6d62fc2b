package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/models"
	"github.com/playrooms/backend/internal/registry"
)

const roomsPageSize = 20

// ListTemplates returns the public room templates players can instantiate.
func ListTemplates(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		templates := []models.RoomTemplate{}
		err := db.Select(&templates, `
			SELECT id, name, game_type, max_players, entry_fee, config, is_public
			FROM room_templates
			WHERE is_public
			ORDER BY id
		`)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load templates"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"templates": templates})
	}
}

// ListRooms pages through live rooms of one game type, newest first.
func ListRooms(reg *registry.RoomRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameType := strings.TrimSpace(c.Query("game"))
		rt, ok := game.Get(gameType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game type"})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
		if page < 0 {
			page = 0
		}

		ctx := c.Request.Context()
		roomIDs, err := reg.RoomsPage(ctx, gameType, int64(page)*roomsPageSize, roomsPageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
			return
		}

		views, err := rt.ViewMany(ctx, roomIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
			return
		}

		// Keep the registry's newest-first order; rooms deleted between the
		// two reads just drop out of the page.
		rooms := make([]map[string]any, 0, len(roomIDs))
		for _, id := range roomIDs {
			if v, ok := views[id]; ok {
				rooms = append(rooms, v)
			}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms, "page": page, "pageSize": roomsPageSize})
	}
}

// GetRoom returns one room's public view.
func GetRoom(reg *registry.RoomRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("id")
		ctx := c.Request.Context()

		gameType, err := reg.GameTypeOf(ctx, roomID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve room"})
			return
		}
		rt, ok := game.Get(gameType)
		if gameType == "" || !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}

		views, err := rt.ViewMany(ctx, []string{roomID})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
			return
		}
		view, ok := views[roomID]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}
