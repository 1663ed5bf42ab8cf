package realtime

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// TypingConfig tunes debounce and expiry.
type TypingConfig struct {
	// Debounce coalesces repeated local typing signals into one broadcast
	// and doubles as the inactivity window that auto-emits stop.
	Debounce time.Duration
	// TTL expires a remote typing entry absent an explicit stop, bounding
	// the stuck-indicator failure mode under message loss.
	TTL time.Duration
}

// TypingCoordinator debounces local typing signals into start/stop broadcasts
// and expires remote entries by TTL. At most one entry exists per
// (room, user); a new start replaces the expiry instead of stacking it.
type TypingCoordinator struct {
	userID  string
	manager *Manager
	sched   *Scheduler
	cfg     TypingConfig
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomTyping
}

type roomTyping struct {
	// remote maps user id to typing start time, for stable ordering.
	remote        map[string]time.Time
	localActive   bool
	lastBroadcast time.Time
	cancelListen  func()
}

// NewTypingCoordinator builds a coordinator for the local user.
func NewTypingCoordinator(userID string, manager *Manager, sched *Scheduler, cfg TypingConfig) *TypingCoordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 4 * time.Second
	}
	return &TypingCoordinator{
		userID:  userID,
		manager: manager,
		sched:   sched,
		cfg:     cfg,
		now:     time.Now,
		rooms:   make(map[string]*roomTyping),
	}
}

// Watch subscribes the coordinator to a room's typing events.
func (t *TypingCoordinator) Watch(roomID string) error {
	t.mu.Lock()
	rt, ok := t.rooms[roomID]
	if ok && rt.cancelListen != nil {
		t.mu.Unlock()
		return nil
	}
	if !ok {
		rt = &roomTyping{remote: make(map[string]time.Time)}
		t.rooms[roomID] = rt
	}
	t.mu.Unlock()

	sub, err := t.manager.Open(roomID)
	if err != nil {
		return err
	}
	events, cancelListen := sub.Listen()

	t.mu.Lock()
	rt.cancelListen = cancelListen
	t.mu.Unlock()

	go t.consume(roomID, events)
	return nil
}

// Unwatch stops tracking a room and cancels its timers.
func (t *TypingCoordinator) Unwatch(ctx context.Context, roomID string) {
	t.StopTyping(ctx, roomID)

	t.mu.Lock()
	rt, ok := t.rooms[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, roomID)
	cancelListen := rt.cancelListen
	t.mu.Unlock()

	if cancelListen != nil {
		cancelListen()
	}
	t.sched.CancelPrefix("typing:" + roomID + ":")
}

// NotifyTyping records local typing. Calls inside the debounce window only
// reschedule the auto-stop; at most one start broadcast goes out per window.
func (t *TypingCoordinator) NotifyTyping(ctx context.Context, roomID string) {
	t.mu.Lock()
	rt, ok := t.rooms[roomID]
	if !ok {
		rt = &roomTyping{remote: make(map[string]time.Time)}
		t.rooms[roomID] = rt
	}
	needBroadcast := !rt.localActive || t.now().Sub(rt.lastBroadcast) >= t.cfg.Debounce
	if needBroadcast {
		rt.localActive = true
		rt.lastBroadcast = t.now()
	}
	t.mu.Unlock()

	if needBroadcast {
		t.broadcast(ctx, roomID, true)
	}

	t.sched.Schedule(t.stopKey(roomID), t.cfg.Debounce, func() {
		t.StopTyping(context.Background(), roomID)
	})
}

// StopTyping broadcasts a stop if the local user was typing.
func (t *TypingCoordinator) StopTyping(ctx context.Context, roomID string) {
	t.mu.Lock()
	rt, ok := t.rooms[roomID]
	wasActive := ok && rt.localActive
	if wasActive {
		rt.localActive = false
	}
	t.mu.Unlock()

	t.sched.Cancel(t.stopKey(roomID))
	if wasActive {
		t.broadcast(ctx, roomID, false)
	}
}

// TypingUsers returns remote users typing in the room, ordered by start time
// so "X and Y are typing" phrasing stays stable.
func (t *TypingCoordinator) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	type entry struct {
		userID    string
		startedAt time.Time
	}
	entries := make([]entry, 0, len(rt.remote))
	for userID, startedAt := range rt.remote {
		entries = append(entries, entry{userID, startedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].startedAt.Equal(entries[j].startedAt) {
			return entries[i].startedAt.Before(entries[j].startedAt)
		}
		return entries[i].userID < entries[j].userID
	})
	users := make([]string, len(entries))
	for i, e := range entries {
		users[i] = e.userID
	}
	return users
}

// Dispose unwatches every room.
func (t *TypingCoordinator) Dispose() {
	t.mu.Lock()
	roomIDs := make([]string, 0, len(t.rooms))
	for roomID := range t.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	t.mu.Unlock()
	for _, roomID := range roomIDs {
		t.Unwatch(context.Background(), roomID)
	}
}

func (t *TypingCoordinator) consume(roomID string, events <-chan models.Event) {
	for event := range events {
		switch event.Type {
		case models.EventTyping:
			if event.Typing != nil {
				t.apply(roomID, *event.Typing)
			}
		case models.EventStatus, models.EventPresence, models.EventMessageInserted,
			models.EventMessageUpdated, models.EventMessageDeleted, models.EventSendAck:
			// Not typing concerns.
		}
	}
}

// apply handles one remote typing signal. A repeated start resets the TTL
// task under the same key, so expiries replace instead of stacking.
func (t *TypingCoordinator) apply(roomID string, signal models.TypingEvent) {
	if signal.UserID == t.userID {
		return
	}

	t.mu.Lock()
	rt, ok := t.rooms[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if signal.Started {
		if _, exists := rt.remote[signal.UserID]; !exists {
			rt.remote[signal.UserID] = t.now()
		}
	} else {
		delete(rt.remote, signal.UserID)
	}
	t.mu.Unlock()

	key := t.ttlKey(roomID, signal.UserID)
	if signal.Started {
		t.sched.Schedule(key, t.cfg.TTL, func() {
			t.expire(roomID, signal.UserID)
		})
	} else {
		t.sched.Cancel(key)
	}
}

func (t *TypingCoordinator) expire(roomID, userID string) {
	t.mu.Lock()
	if rt, ok := t.rooms[roomID]; ok {
		delete(rt.remote, userID)
	}
	t.mu.Unlock()
}

func (t *TypingCoordinator) broadcast(ctx context.Context, roomID string, started bool) {
	kind := "stop"
	if started {
		kind = "start"
	}
	observability.IncTypingBroadcast(kind)
	err := t.manager.Publish(ctx, roomID, models.Event{
		Type:   models.EventTyping,
		RoomID: roomID,
		Typing: &models.TypingEvent{
			UserID:  t.userID,
			Started: started,
			SentAt:  t.now(),
		},
	})
	if err != nil {
		log.Printf("typing broadcast failed room=%s kind=%s: %v", roomID, kind, err)
	}
}

func (t *TypingCoordinator) stopKey(roomID string) string {
	return "typing:" + roomID + ":stop"
}

func (t *TypingCoordinator) ttlKey(roomID, userID string) string {
	return "typing:" + roomID + ":ttl:" + userID
}
