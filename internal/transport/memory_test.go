package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func TestMemoryTransportDeliversToChannelSubscribers(t *testing.T) {
	bus := NewMemoryTransport()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), RoomChannel("r1"))
	require.NoError(t, err)
	other, err := bus.Subscribe(context.Background(), RoomChannel("r2"))
	require.NoError(t, err)

	event := models.Event{Type: models.EventMessageInserted, RoomID: "r1", Message: &models.Message{ID: "m1"}}
	require.NoError(t, bus.Publish(context.Background(), RoomChannel("r1"), event))

	got := <-sub.Events()
	assert.Equal(t, "m1", got.Message.ID)

	select {
	case leaked := <-other.Events():
		t.Fatalf("event leaked across channels: %+v", leaked)
	default:
	}
}

func TestMemoryTransportDropFailsSubscriptions(t *testing.T) {
	bus := NewMemoryTransport()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), "room.r1")
	require.NoError(t, err)

	cause := errors.New("link lost")
	bus.Drop("room.r1", cause)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, cause, sub.Err())

	// The channel is gone; a new subscribe starts clean.
	fresh, err := bus.Subscribe(context.Background(), "room.r1")
	require.NoError(t, err)
	assert.NoError(t, fresh.Err())
}

func TestMemoryTransportFailNextSubscribe(t *testing.T) {
	bus := NewMemoryTransport()
	defer bus.Close()

	cause := errors.New("broker down")
	bus.FailNextSubscribe(cause)

	_, err := bus.Subscribe(context.Background(), "room.r1")
	assert.ErrorIs(t, err, cause)

	// One-shot: the next attempt succeeds.
	_, err = bus.Subscribe(context.Background(), "room.r1")
	assert.NoError(t, err)
}

func TestMemoryTransportClose(t *testing.T) {
	bus := NewMemoryTransport()
	sub, err := bus.Subscribe(context.Background(), "room.r1")
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.ErrorIs(t, sub.Err(), ErrTransportClosed)

	_, err = bus.Subscribe(context.Background(), "room.r1")
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), "room.r1", models.Event{}), ErrTransportClosed)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := NewMemoryTransport()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), "room.r1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Publishing after close must not panic or block.
	require.NoError(t, bus.Publish(context.Background(), "room.r1", models.Event{Type: models.EventTyping}))
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestNewFallsBackToLoopback(t *testing.T) {
	bus := New("", "chat.rooms")
	defer bus.Close()
	_, ok := bus.(*MemoryTransport)
	assert.True(t, ok)
}

func TestRoomChannel(t *testing.T) {
	assert.Equal(t, "room.r1", RoomChannel("r1"))
}
