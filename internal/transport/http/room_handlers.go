package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/presence"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/proto"
)

// RoomHandlers exposes read-only views of the push registry.
type RoomHandlers struct {
	registry *push.Registry
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *push.Registry, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		log:      logger,
	}
}

// Viewers lists the identified viewers of a room. Room keys contain '/', so
// clients escape it as %2F.
// GET /api/rooms/:room/viewers
func (h *RoomHandlers) Viewers(c *gin.Context) {
	room := strings.TrimSpace(c.Param("room"))
	if room == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room is required"})
		return
	}

	roster, err := h.registry.Roster(c.Request.Context(), presence.Room(room))
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to read room roster")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, proto.RoomViewersResponse{
		Room:    room,
		Viewers: usersFromRoster(roster),
	})
}
