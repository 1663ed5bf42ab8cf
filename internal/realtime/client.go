package realtime

import (
	"context"
	"sync"

	"chat-sync/internal/transport"
)

// ClientConfig bundles the tunables for one client's coordination stack.
type ClientConfig struct {
	Backoff  BackoffConfig
	Presence PresenceConfig
	Typing   TypingConfig
	Store    StoreConfig
}

// Client is the per-user coordination stack: one connection manager, message
// store, presence tracker and typing coordinator sharing a scheduler. It
// replaces any process-wide realtime state; tests and sessions construct
// isolated instances and Dispose them.
type Client struct {
	UserID   string
	Manager  *Manager
	Store    *MessageStore
	Presence *PresenceTracker
	Typing   *TypingCoordinator

	sched *Scheduler

	mu     sync.Mutex
	joined map[string]func()
}

// NewClient wires a coordination stack for userID over the given transport
// and history collaborator.
func NewClient(userID string, tr transport.Transport, history HistoryAPI, cfg ClientConfig) *Client {
	sched := NewScheduler()
	manager := NewManager(tr, cfg.Backoff)
	return &Client{
		UserID:   userID,
		Manager:  manager,
		Store:    NewMessageStore(userID, history, cfg.Store),
		Presence: NewPresenceTracker(userID, manager, cfg.Presence),
		Typing:   NewTypingCoordinator(userID, manager, sched, cfg.Typing),
		sched:    sched,
		joined:   make(map[string]func()),
	}
}

// JoinRoom opens the room subscription and attaches every component to it:
// the store consumes message events, presence and typing their own subsets.
// Joining an already joined room returns the existing subscription.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (*Subscription, error) {
	sub, err := c.Manager.Open(roomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	_, already := c.joined[roomID]
	c.mu.Unlock()
	if already {
		return sub, nil
	}

	events, cancelListen := sub.Listen()
	go func() {
		for event := range events {
			c.Store.ApplyRemote(event)
		}
	}()

	c.mu.Lock()
	c.joined[roomID] = cancelListen
	c.mu.Unlock()

	if err := c.Presence.Track(ctx, roomID); err != nil {
		c.LeaveRoom(ctx, roomID)
		return nil, err
	}
	if err := c.Typing.Watch(roomID); err != nil {
		c.LeaveRoom(ctx, roomID)
		return nil, err
	}
	return sub, nil
}

// LeaveRoom detaches the components and closes the room subscription. The
// room's cache is reset so any in-flight page load is dropped on arrival.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) {
	c.mu.Lock()
	cancelListen, ok := c.joined[roomID]
	delete(c.joined, roomID)
	c.mu.Unlock()

	if ok {
		cancelListen()
	}
	c.Typing.Unwatch(ctx, roomID)
	c.Presence.Untrack(ctx, roomID)
	c.Store.Reset(roomID)
	c.Manager.Close(roomID)
}

// Dispose releases everything the client holds.
func (c *Client) Dispose() {
	c.mu.Lock()
	roomIDs := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		roomIDs = append(roomIDs, roomID)
	}
	c.mu.Unlock()

	for _, roomID := range roomIDs {
		c.LeaveRoom(context.Background(), roomID)
	}
	c.Typing.Dispose()
	c.Presence.Dispose()
	c.Manager.Dispose()
	c.sched.Close()
}
