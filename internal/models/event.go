package models

import "time"

// EventType discriminates the realtime event union. Every consumer switches
// exhaustively on it at its single ingestion point.
type EventType string

const (
	EventMessageInserted EventType = "message_inserted"
	EventMessageUpdated  EventType = "message_updated"
	EventMessageDeleted  EventType = "message_deleted"
	EventSendAck         EventType = "send_ack"
	EventPresence        EventType = "presence"
	EventTyping          EventType = "typing"
	// EventStatus is synthesized locally by the connection manager; it never
	// crosses the transport.
	EventStatus EventType = "status"
)

// PresenceAction is the kind of presence signal carried by a presence event.
type PresenceAction string

const (
	PresenceJoin      PresenceAction = "join"
	PresenceLeave     PresenceAction = "leave"
	PresenceHeartbeat PresenceAction = "heartbeat"
)

// PresenceEvent announces a user's presence transition in a room.
type PresenceEvent struct {
	UserID string         `json:"user_id"`
	Action PresenceAction `json:"action"`
	SentAt time.Time      `json:"sent_at"`
}

// TypingEvent announces a typing start or stop for a user in a room.
type TypingEvent struct {
	UserID  string    `json:"user_id"`
	Started bool      `json:"started"`
	SentAt  time.Time `json:"sent_at"`
}

// SendAck confirms a client send: the optimistic entry carrying the same
// correlation id is replaced by the canonical message.
type SendAck struct {
	CorrelationID string  `json:"correlation_id"`
	Message       Message `json:"message"`
}

// MessageDeleted carries the id of a removed message. HasReplies reflects
// the server's reply check at deletion time, so consumers whose cache holds
// none of the replies still keep the tombstone anchor.
type MessageDeleted struct {
	MessageID  string `json:"message_id"`
	HasReplies bool   `json:"has_replies,omitempty"`
}

// Event is the tagged union carried over the realtime transport. Exactly one
// variant pointer matching Type is set. The transport is at-least-once and may
// reorder, so every consumer must tolerate duplicates.
type Event struct {
	Type     EventType        `json:"type"`
	RoomID   string           `json:"room_id"`
	Message  *Message         `json:"message,omitempty"`
	Deleted  *MessageDeleted  `json:"deleted,omitempty"`
	Ack      *SendAck         `json:"ack,omitempty"`
	Presence *PresenceEvent   `json:"presence,omitempty"`
	Typing   *TypingEvent     `json:"typing,omitempty"`
	Status   ConnectionStatus `json:"status,omitempty"`
}

// ConnectionStatus is the state of a room subscription.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)
