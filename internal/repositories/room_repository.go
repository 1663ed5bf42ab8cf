package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room and roster persistence. The roster is owned
// by an external service; this repository is the read-mostly cache of it.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	Roster(ctx context.Context, roomID string) ([]models.Participant, error)
	ListRoomIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, type, name, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRoomsForUser returns the rooms the user belongs to, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	query := `SELECT r.id, r.type, r.name, r.created_at FROM rooms r
        JOIN room_participants p ON p.room_id = r.id
        WHERE p.user_id=$1
        ORDER BY r.created_at DESC`
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, query, userID)
	return rooms, err
}

// IsParticipant checks whether the user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// Roster returns the room membership ordered by role then join time, the
// order mention resolution uses to break ties.
func (r *RoomRepo) Roster(ctx context.Context, roomID string) ([]models.Participant, error) {
	query := `SELECT room_id, user_id, display_name, role, joined_at FROM room_participants
        WHERE room_id=$1
        ORDER BY CASE role WHEN 'admin' THEN 0 WHEN 'moderator' THEN 1 ELSE 2 END, joined_at ASC`
	var roster []models.Participant
	err := r.db.SelectContext(ctx, &roster, query, roomID)
	return roster, err
}

// ListRoomIDsForUser returns just the room ids for multi-room search scoping.
func (r *RoomRepo) ListRoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT room_id FROM room_participants WHERE user_id=$1`, userID)
	return ids, err
}
