package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/notify"
	"chat-sync/internal/observability"
	"chat-sync/internal/realtime"
)

const writeTimeout = 10 * time.Second

// InboundFrame is what browser clients send over the socket.
type InboundFrame struct {
	Type  string              `json:"type"`
	Prefs *notify.Preferences `json:"prefs,omitempty"`
	Focus *notify.FocusState  `json:"focus,omitempty"`
}

// OutboundFrame wraps a core event with the session's presence/typing view
// and the notification decision for this user.
type OutboundFrame struct {
	Type     string           `json:"type"`
	Event    *models.Event    `json:"event,omitempty"`
	Present  []string         `json:"present,omitempty"`
	Typing   []string         `json:"typing,omitempty"`
	Decision *notify.Decision `json:"decision,omitempty"`
}

// Session is one websocket connection bound to one room. It bridges the
// socket to the user's realtime client: core events flow out, typing and
// preference signals flow in.
type Session struct {
	roomID string
	userID string
	connID string

	conn     *websocket.Conn
	client   *realtime.Client
	registry *Registry

	mu    sync.Mutex
	prefs notify.Preferences
	focus notify.FocusState

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(roomID, userID, connID string, conn *websocket.Conn, client *realtime.Client, registry *Registry) *Session {
	return &Session{
		roomID:   roomID,
		userID:   userID,
		connID:   connID,
		conn:     conn,
		client:   client,
		registry: registry,
		prefs:    notify.Preferences{Enabled: true},
		done:     make(chan struct{}),
	}
}

// run drives both pumps and tears everything down when either exits.
func (s *Session) run(ctx context.Context, sub *realtime.Subscription) {
	events, cancelListen := sub.Listen()

	go s.writePump(events)
	s.readPump()

	cancelListen()
	s.shutdown()
	s.client.LeaveRoom(context.Background(), s.roomID)
	s.client.Dispose()
	s.registry.Remove(s)
	observability.IncWSEvent("ws_disconnect")
}

func (s *Session) writePump(events <-chan models.Event) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			frame := s.buildFrame(event)
			if err := s.write(frame); err != nil {
				log.Printf("websocket write error conn=%s room=%s: %v", s.connID, s.roomID, err)
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer s.shutdown()
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		s.handleInbound(frame)
	}
}

func (s *Session) handleInbound(frame InboundFrame) {
	ctx := context.Background()
	switch frame.Type {
	case "typing":
		s.client.Typing.NotifyTyping(ctx, s.roomID)
	case "stop_typing":
		s.client.Typing.StopTyping(ctx, s.roomID)
	case "heartbeat":
		// Presence heartbeats run on their own interval; the frame just
		// keeps intermediaries from idling the socket out.
	case "prefs":
		if frame.Prefs != nil {
			s.mu.Lock()
			s.prefs = *frame.Prefs
			s.mu.Unlock()
		}
	case "focus":
		if frame.Focus != nil {
			s.mu.Lock()
			s.focus = *frame.Focus
			s.mu.Unlock()
		}
	}
}

// buildFrame decorates a core event with this user's presence/typing view
// and notification decision.
func (s *Session) buildFrame(event models.Event) OutboundFrame {
	s.mu.Lock()
	prefs, focus := s.prefs, s.focus
	s.mu.Unlock()

	frame := OutboundFrame{
		Type:    "event",
		Event:   &event,
		Present: s.client.Presence.PresentUsers(s.roomID),
		Typing:  s.client.Typing.TypingUsers(s.roomID),
	}
	if event.Type == models.EventMessageInserted {
		decision := notify.Evaluate(s.userID, event, prefs, focus)
		frame.Decision = &decision
	}
	return frame
}

func (s *Session) write(frame OutboundFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
