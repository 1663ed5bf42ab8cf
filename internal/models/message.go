package models

import "time"

// MessageType classifies message content.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageFile        MessageType = "file"
	MessageAchievement MessageType = "achievement"
	MessageSystem      MessageType = "system"
)

// Attachment is a descriptor handed out by the attachment-storage service.
// Only references travel through this service, never blob bytes.
type Attachment struct {
	ID          string `db:"id" json:"id"`
	MessageID   string `db:"message_id" json:"message_id"`
	StoragePath string `db:"storage_path" json:"storage_path"`
	SizeBytes   int64  `db:"size_bytes" json:"size_bytes"`
	Width       int    `db:"width" json:"width,omitempty"`
	Height      int    `db:"height" json:"height,omitempty"`
}

// Message represents a chat message. Within a room, messages are totally
// ordered by (CreatedAt, ID).
type Message struct {
	ID            string         `db:"id" json:"id"`
	RoomID        string         `db:"room_id" json:"room_id"`
	SenderID      string         `db:"sender_id" json:"sender_id"`
	Content       string         `db:"content" json:"content"`
	Type          MessageType    `db:"type" json:"type"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	EditedAt      *time.Time     `db:"edited_at" json:"edited_at,omitempty"`
	ReplyToID     *string        `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CorrelationID string         `db:"correlation_id" json:"correlation_id,omitempty"`
	Attachments   []Attachment   `json:"attachments,omitempty"`
	Reactions     map[string]int `json:"reactions,omitempty"`
	MentionIDs    []string       `json:"mention_ids,omitempty"`

	// Optimistic marks a client-local entry awaiting server acknowledgment.
	Optimistic bool `db:"-" json:"optimistic,omitempty"`
	// Deleted marks a tombstone kept to preserve reply-thread context.
	Deleted bool `db:"deleted" json:"deleted,omitempty"`
}

// Before reports whether m sorts before other in canonical room order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Draft is the user-supplied portion of a message before it is sent.
type Draft struct {
	Content     string       `json:"content"`
	Type        MessageType  `json:"type,omitempty"`
	ReplyToID   *string      `json:"reply_to_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	MentionIDs  []string     `json:"mention_ids,omitempty"`
}
