package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/repositories"
)

// RoomHandler serves room listing and roster reads.
type RoomHandler struct {
	roomRepo repositories.RoomRepository
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo}
}

// ListRooms returns the rooms visible to the authenticated user.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetString("userID")

	rooms, err := h.roomRepo.ListRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoster returns the room membership, membership-checked.
func (h *RoomHandler) GetRoster(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	roster, err := h.roomRepo.Roster(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load roster"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"participants": roster})
}
