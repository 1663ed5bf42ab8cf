package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/repositories"
	"chat-sync/internal/search"
)

// SearchHandler serves ranked message search and query suggestions.
type SearchHandler struct {
	engine   *search.Engine
	roomRepo repositories.RoomRepository
	limit    int
}

// NewSearchHandler builds a SearchHandler.
func NewSearchHandler(engine *search.Engine, roomRepo repositories.RoomRepository, limit int) *SearchHandler {
	if limit <= 0 {
		limit = 20
	}
	return &SearchHandler{engine: engine, roomRepo: roomRepo, limit: limit}
}

// Search runs a ranked query scoped to one room or all of the user's rooms.
func (h *SearchHandler) Search(c *gin.Context) {
	userID := c.GetString("userID")
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	opts := search.Options{Limit: h.limit}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			opts.Limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts.Offset = parsed
		}
	}
	opts.SortByDate = c.Query("sort") == "date"

	if roomID := c.Query("room_id"); roomID != "" {
		member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
			return
		}
		if !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
			return
		}
		opts.RoomIDs = []string{roomID}
	} else {
		roomIDs, err := h.roomRepo.ListRoomIDsForUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
			return
		}
		opts.RoomIDs = roomIDs
	}

	results, err := h.engine.Search(c.Request.Context(), userID, query, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":  results.Results,
		"has_more": results.HasMore,
		"stats": gin.H{
			"total":       results.Stats.Total,
			"latency_ms":  results.Stats.Latency.Milliseconds(),
			"rooms_found": results.Stats.RoomsFound,
		},
	})
}

// Suggest returns the user's recent successful queries matching the partial
// input.
func (h *SearchHandler) Suggest(c *gin.Context) {
	userID := c.GetString("userID")
	suggestions := h.engine.Suggest(userID, c.Query("q"))
	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}
