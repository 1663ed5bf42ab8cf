package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupRoomRouter(handler *RoomHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.GET("/rooms", handler.ListRooms)
	r.GET("/rooms/:room_id/roster", handler.GetRoster)
	return r
}

func TestListRoomsSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewRoomHandler(roomRepo)
	router := setupRoomRouter(handler)

	rooms := []models.Room{
		{ID: "r1", Type: models.RoomGroup, Name: "backend", CreatedAt: time.Now()},
		{ID: "r2", Type: models.RoomDirect, CreatedAt: time.Now()},
	}
	roomRepo.On("ListRoomsForUser", mock.Anything, "alice").Return(rooms, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.Room `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Rooms, 2)
	roomRepo.AssertExpectations(t)
}

func TestListRoomsRepoError(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewRoomHandler(roomRepo)
	router := setupRoomRouter(handler)

	roomRepo.On("ListRoomsForUser", mock.Anything, "alice").Return(([]models.Room)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRosterOrdered(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewRoomHandler(roomRepo)
	router := setupRoomRouter(handler)

	roster := []models.Participant{
		{RoomID: "r1", UserID: "u-admin", DisplayName: "Root", Role: models.RoleAdmin},
		{RoomID: "r1", UserID: "u-bob", DisplayName: "Bob", Role: models.RoleMember},
	}
	roomRepo.On("IsParticipant", mock.Anything, "r1", "alice").Return(true, nil).Once()
	roomRepo.On("Roster", mock.Anything, "r1").Return(roster, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms/r1/roster", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Participants []models.Participant `json:"participants"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Participants, 2)
	assert.Equal(t, "u-admin", resp.Participants[0].UserID)
	roomRepo.AssertExpectations(t)
}

func TestGetRosterNotMember(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	handler := NewRoomHandler(roomRepo)
	router := setupRoomRouter(handler)

	roomRepo.On("IsParticipant", mock.Anything, "r1", "alice").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms/r1/roster", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	roomRepo.AssertExpectations(t)
}
