package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/transport"
)

// serverHistory is a history stub that also echoes inserts over the
// transport, the way the gateway does after a persisted send.
type serverHistory struct {
	bus *transport.MemoryTransport

	mu   sync.Mutex
	next int
	fail bool
}

func (h *serverHistory) GetPage(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error) {
	return repositories.HistoryPage{}, nil
}

func (h *serverHistory) CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
	h.mu.Lock()
	if h.fail {
		h.mu.Unlock()
		return models.Message{}, errors.New("history unavailable")
	}
	h.next++
	msg := models.Message{
		ID:            string(rune('a' + h.next)),
		RoomID:        roomID,
		SenderID:      senderID,
		Content:       draft.Content,
		Type:          models.MessageText,
		CreatedAt:     time.Now(),
		CorrelationID: correlationID,
	}
	h.mu.Unlock()

	_ = h.bus.Publish(ctx, transport.RoomChannel(roomID), models.Event{
		Type: models.EventMessageInserted, RoomID: roomID, Message: &msg,
	})
	return msg, nil
}

func clientFixture(t *testing.T, userID string, bus *transport.MemoryTransport, history HistoryAPI) *Client {
	t.Helper()
	client := NewClient(userID, bus, history, ClientConfig{
		Backoff: fastBackoff(),
		Presence: PresenceConfig{
			HeartbeatInterval: 20 * time.Millisecond,
			Timeout:           200 * time.Millisecond,
			SweepInterval:     25 * time.Millisecond,
		},
		Typing: TypingConfig{Debounce: 50 * time.Millisecond, TTL: 100 * time.Millisecond},
	})
	t.Cleanup(client.Dispose)
	return client
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	bus := transport.NewMemoryTransport()
	client := clientFixture(t, "alice", bus, &historyStub{})

	first, err := client.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)
	second, err := client.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSendVisibleToOtherClient(t *testing.T) {
	bus := transport.NewMemoryTransport()
	history := &serverHistory{bus: bus}
	alice := clientFixture(t, "alice", bus, history)
	bob := clientFixture(t, "bob", bus, history)

	_, err := alice.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)
	_, err = bob.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)

	waitForStatus(t, alice.Manager, "r1", models.StatusConnected)
	waitForStatus(t, bob.Manager, "r1", models.StatusConnected)

	sent, err := alice.Store.Send(context.Background(), "r1", models.Draft{Content: "hi bob"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := bob.Store.Messages("r1")
		return len(msgs) == 1 && msgs[0].ID == sent.ID
	}, 2*time.Second, 10*time.Millisecond)

	// Alice holds exactly one copy despite receiving both the HTTP-style ack
	// and the transport echo.
	msgs := alice.Store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Optimistic)
}

func TestOfflineSendReconnectAck(t *testing.T) {
	bus := transport.NewMemoryTransport()
	history := &serverHistory{bus: bus}
	alice := clientFixture(t, "alice", bus, history)

	_, err := alice.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)
	waitForStatus(t, alice.Manager, "r1", models.StatusConnected)

	// The link drops and history rejects the first send attempt.
	history.mu.Lock()
	history.fail = true
	history.mu.Unlock()
	bus.Drop(transport.RoomChannel("r1"), errors.New("link lost"))

	_, err = alice.Store.Send(context.Background(), "r1", models.Draft{Content: "while offline"})
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Empty(t, alice.Store.Messages("r1"))

	// Backoff brings the subscription back; the retried send acks normally.
	history.mu.Lock()
	history.fail = false
	history.mu.Unlock()
	waitForStatus(t, alice.Manager, "r1", models.StatusConnected)

	sent, err := alice.Store.Send(context.Background(), "r1", models.Draft{Content: "back online"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := alice.Store.Messages("r1")
		return len(msgs) == 1 && msgs[0].ID == sent.ID && !msgs[0].Optimistic
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLeaveRoomResetsState(t *testing.T) {
	bus := transport.NewMemoryTransport()
	history := &serverHistory{bus: bus}
	alice := clientFixture(t, "alice", bus, history)

	_, err := alice.JoinRoom(context.Background(), "r1")
	require.NoError(t, err)
	waitForStatus(t, alice.Manager, "r1", models.StatusConnected)

	_, err = alice.Store.Send(context.Background(), "r1", models.Draft{Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, alice.Store.Messages("r1"))

	alice.LeaveRoom(context.Background(), "r1")

	assert.Empty(t, alice.Store.Messages("r1"))
	assert.Nil(t, alice.Presence.PresentUsers("r1"))
	assert.Equal(t, models.StatusDisconnected, alice.Manager.Status("r1"))
}
