package models

import "time"

// RoomType classifies a room.
type RoomType string

const (
	RoomDirect   RoomType = "direct"
	RoomCategory RoomType = "category"
	RoomGroup    RoomType = "group"
	RoomSupport  RoomType = "support"
)

// Room is a conversation scope: a direct chat, a category channel, an ad hoc
// group or a support thread.
type Room struct {
	ID        string    `db:"id" json:"id"`
	Type      RoomType  `db:"type" json:"type"`
	Name      string    `db:"name" json:"name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Role is a participant's role within a room.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Rank orders roles for roster display, lowest first.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 0
	case RoleModerator:
		return 1
	default:
		return 2
	}
}

// Participant is one member of a room's roster. The roster is owned by an
// external service; display names here are the mention-resolution source.
type Participant struct {
	RoomID      string    `db:"room_id" json:"room_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Role        Role      `db:"role" json:"role"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}
