// Package notify decides whether an incoming event should surface a local
// notification. It is pure decision logic; delivery belongs to an external
// collaborator.
package notify

import "chat-sync/internal/models"

// Preferences are the user's notification settings.
type Preferences struct {
	Enabled      bool            `json:"enabled"`
	MentionsOnly bool            `json:"mentions_only"`
	MutedRooms   map[string]bool `json:"muted_rooms,omitempty"`
}

// FocusState describes which room, if any, currently has the user's window
// focus.
type FocusState struct {
	Focused       bool   `json:"focused"`
	FocusedRoomID string `json:"focused_room_id,omitempty"`
}

// Reason explains a negative decision.
type Reason string

const (
	ReasonNotify      Reason = "notify"
	ReasonDisabled    Reason = "disabled"
	ReasonNotMessage  Reason = "not_a_message"
	ReasonOwnMessage  Reason = "own_message"
	ReasonNoMention   Reason = "no_mention"
	ReasonMuted       Reason = "room_muted"
	ReasonRoomFocused Reason = "room_focused"
)

// Decision is the outcome for one event.
type Decision struct {
	Notify    bool   `json:"notify"`
	Reason    Reason `json:"reason"`
	RoomID    string `json:"room_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Mentioned bool   `json:"mentioned,omitempty"`
}

// Evaluate decides whether userID should be notified about event. Pure
// function of its inputs; it performs no I/O.
func Evaluate(userID string, event models.Event, prefs Preferences, focus FocusState) Decision {
	if event.Type != models.EventMessageInserted || event.Message == nil {
		return Decision{Reason: ReasonNotMessage}
	}
	msg := event.Message

	decision := Decision{
		RoomID:    event.RoomID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Mentioned: mentions(msg, userID),
	}

	if msg.SenderID == userID {
		decision.Reason = ReasonOwnMessage
		return decision
	}
	if !prefs.Enabled {
		decision.Reason = ReasonDisabled
		return decision
	}
	if prefs.MentionsOnly && !decision.Mentioned {
		decision.Reason = ReasonNoMention
		return decision
	}
	if prefs.MutedRooms[event.RoomID] {
		decision.Reason = ReasonMuted
		return decision
	}
	if focus.Focused && focus.FocusedRoomID == event.RoomID {
		decision.Reason = ReasonRoomFocused
		return decision
	}

	decision.Notify = true
	decision.Reason = ReasonNotify
	return decision
}

func mentions(msg *models.Message, userID string) bool {
	for _, id := range msg.MentionIDs {
		if id == userID {
			return true
		}
	}
	return false
}
