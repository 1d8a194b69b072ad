package http

import (
	"net/http"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/internal/infrastructure/signal"
	apperrors "pointlink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the relay's operational read-only surface: health and
// a live membership snapshot. Mutation happens only over the websocket.
type RoomHandler struct {
	registry *signal.Registry
	started  time.Time
}

func NewRoomHandler(registry *signal.Registry) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		started:  time.Now(),
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

func (h *RoomHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"uptime_s":    int(time.Since(h.started).Seconds()),
		"connections": h.registry.ConnectionCount(),
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.registry.Rooms()

	out := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, gin.H{
			"id":         room.ID,
			"members":    room.Members,
			"created_at": room.CreatedAt.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))

	for _, room := range h.registry.Rooms() {
		if room.ID == id {
			c.JSON(http.StatusOK, gin.H{
				"id":         room.ID,
				"members":    room.Members,
				"created_at": room.CreatedAt.Unix(),
			})
			return
		}
	}
	c.Error(apperrors.NewNotFoundError("room"))
}
