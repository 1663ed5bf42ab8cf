package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-sync/internal/mentions"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/transport"
)

// EventPublisher pushes room events onto the realtime transport.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event models.Event) error
}

// MessageHandler serves the message-history API: paginated reads and writes
// that return the canonical persisted record and echo events to the room
// channel.
type MessageHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	publisher   EventPublisher
	pageSize    int
	maxContent  int
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, publisher EventPublisher, pageSize, maxContent int) *MessageHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxContent <= 0 {
		maxContent = 4000
	}
	return &MessageHandler{
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
		pageSize:    pageSize,
		maxContent:  maxContent,
	}
}

// GetMessages returns one backward page of a room's timeline.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	if !h.requireMembership(c, roomID, userID) {
		return
	}

	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	page, err := h.messageRepo.GetPage(c.Request.Context(), roomID, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, repositories.ErrBadCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// PostMessage persists a message, resolving draft mentions against the room
// roster, then publishes the insert event carrying the correlation id so
// optimistic senders reconcile instead of duplicating.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString("userID")

	if !h.requireMembership(c, roomID, userID) {
		return
	}

	var req struct {
		models.Draft
		CorrelationID string `json:"correlation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if len(req.Content) > h.maxContent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content too long"})
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	roster, err := h.roomRepo.Roster(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load roster"})
		return
	}
	resolution := mentions.Resolve(req.Content, roster)
	req.Draft.Content = resolution.FinalText
	req.Draft.MentionIDs = resolution.UserIDs

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), roomID, userID, req.Draft, req.CorrelationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	msg.MentionIDs = resolution.UserIDs

	h.publish(c, roomID, models.Event{
		Type:    models.EventMessageInserted,
		RoomID:  roomID,
		Message: &msg,
	})
	c.JSON(http.StatusCreated, msg)
}

// EditMessage updates content and stamps edited-at, sender only.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	if !h.requireMembership(c, roomID, userID) {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Content) > h.maxContent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content too long"})
		return
	}

	msg, err := h.messageRepo.EditMessage(c.Request.Context(), roomID, messageID, userID, req.Content)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}

	h.publish(c, roomID, models.Event{
		Type:    models.EventMessageUpdated,
		RoomID:  roomID,
		Message: &msg,
	})
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage removes a message for everyone, sender only.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	if !h.requireMembership(c, roomID, userID) {
		return
	}

	hasReplies, err := h.messageRepo.HasReplies(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update message"})
		return
	}

	if err := h.messageRepo.DeleteMessage(c.Request.Context(), roomID, messageID, userID); err != nil {
		h.writeMutationError(c, err)
		return
	}

	h.publish(c, roomID, models.Event{
		Type:    models.EventMessageDeleted,
		RoomID:  roomID,
		Deleted: &models.MessageDeleted{MessageID: messageID, HasReplies: hasReplies},
	})
	c.Status(http.StatusNoContent)
}

// AddReaction records a reaction and broadcasts the refreshed message.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	h.mutateReaction(c, true)
}

// RemoveReaction removes a reaction and broadcasts the refreshed message.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	h.mutateReaction(c, false)
}

func (h *MessageHandler) mutateReaction(c *gin.Context, add bool) {
	roomID := c.Param("room_id")
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	if !h.requireMembership(c, roomID, userID) {
		return
	}

	var emoji string
	if add {
		var req struct {
			Emoji string `json:"emoji" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		emoji = req.Emoji
	} else {
		emoji = c.Param("emoji")
	}

	var err error
	if add {
		err = h.messageRepo.AddReaction(c.Request.Context(), messageID, userID, emoji)
	} else {
		err = h.messageRepo.RemoveReaction(c.Request.Context(), messageID, userID, emoji)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update reaction"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}

	h.publish(c, roomID, models.Event{
		Type:    models.EventMessageUpdated,
		RoomID:  roomID,
		Message: &msg,
	})
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) requireMembership(c *gin.Context, roomID, userID string) bool {
	member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return false
	}
	return true
}

func (h *MessageHandler) writeMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, repositories.ErrNotSender):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender may modify a message"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update message"})
	}
}

func (h *MessageHandler) publish(c *gin.Context, roomID string, event models.Event) {
	if err := h.publisher.Publish(c.Request.Context(), transport.RoomChannel(roomID), event); err != nil {
		// The write already succeeded; clients recover via history reload.
		return
	}
}
