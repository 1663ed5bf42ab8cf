package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientFactory builds a realtime coordination client for one user session.
type ClientFactory func(userID string) *realtime.Client

// RoomWebSocketHandler upgrades room websocket connections and binds each
// one to an isolated realtime client.
type RoomWebSocketHandler struct {
	registry  *Registry
	roomRepo  repositories.RoomRepository
	validator middleware.TokenValidator
	factory   ClientFactory
}

// NewRoomWebSocketHandler constructs the handler.
func NewRoomWebSocketHandler(registry *Registry, roomRepo repositories.RoomRepository, validator middleware.TokenValidator, factory ClientFactory) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{
		registry:  registry,
		roomRepo:  roomRepo,
		validator: validator,
		factory:   factory,
	}
}

// Handle authenticates, checks membership, upgrades the connection and runs
// the session until either side closes.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := middleware.BearerOrQueryToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.roomRepo.IsParticipant(ctx, roomID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for room"})
		return
	}

	client := h.factory(userID)
	sub, err := client.JoinRoom(ctx, roomID)
	if err != nil {
		client.Dispose()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		client.Dispose()
		return
	}

	session := newSession(roomID, userID, newConnID(), conn, client, h.registry)
	h.registry.Add(session)
	observability.IncWSEvent("ws_connect")
	log.Printf("websocket connected room=%s user=%s conn=%s ip=%s device=%s request_id=%s",
		roomID, userID, session.connID, observability.IPFromRequest(c.Request),
		observability.DeviceIDFromRequest(c.Request), observability.RequestIDFromRequest(c.Request))

	go session.run(ctx, sub)
}
