package transport

import (
	"context"

	"chat-sync/internal/models"
)

// Transport is the realtime publish/subscribe collaborator. Delivery is
// at-least-once and may reorder or duplicate events; consumers must be
// idempotent to redelivery.
type Transport interface {
	// Subscribe opens a stream of events for a channel. The returned
	// subscription's Events channel is closed when the underlying stream
	// fails or the subscription is closed; Err reports why.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Publish sends one event to a channel.
	Publish(ctx context.Context, channel string, event models.Event) error
	Close() error
}

// Subscription is one open event stream.
type Subscription interface {
	Events() <-chan models.Event
	Err() error
	Close() error
}

// RoomChannel names the transport channel carrying a room's events.
func RoomChannel(roomID string) string {
	return "room." + roomID
}
