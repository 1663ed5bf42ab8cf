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

// PresenceConfig tunes heartbeats and eviction.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	// Timeout evicts an entry when no heartbeat arrived within it.
	Timeout time.Duration
	// SweepInterval is how often eviction runs. The sweep is the correctness
	// backstop; join/leave events are only fast-paths.
	SweepInterval time.Duration
}

// PresenceTracker maintains the set of online participants per tracked room.
// It subscribes to the room's event stream for join/leave/heartbeat signals
// and evicts silent users on a periodic sweep, so presence converges even
// when leave events are lost.
type PresenceTracker struct {
	userID  string
	manager *Manager
	cfg     PresenceConfig
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomPresence
}

type roomPresence struct {
	entries      map[string]time.Time
	cancelListen func()
	stop         chan struct{}
}

// NewPresenceTracker builds a tracker for the local user.
func NewPresenceTracker(userID string, manager *Manager, cfg PresenceConfig) *PresenceTracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &PresenceTracker{
		userID:  userID,
		manager: manager,
		cfg:     cfg,
		now:     time.Now,
		rooms:   make(map[string]*roomPresence),
	}
}

// Track starts presence for a room: announces the local user, heartbeats on
// the configured interval and sweeps stale entries. Tracking an already
// tracked room is a no-op.
func (p *PresenceTracker) Track(ctx context.Context, roomID string) error {
	p.mu.Lock()
	if _, ok := p.rooms[roomID]; ok {
		p.mu.Unlock()
		return nil
	}
	rp := &roomPresence{
		entries: map[string]time.Time{p.userID: p.now()},
		stop:    make(chan struct{}),
	}
	p.rooms[roomID] = rp
	p.mu.Unlock()

	sub, err := p.manager.Open(roomID)
	if err != nil {
		p.drop(roomID)
		return err
	}
	events, cancelListen := sub.Listen()

	p.mu.Lock()
	rp.cancelListen = cancelListen
	p.mu.Unlock()

	if err := p.announce(ctx, roomID, models.PresenceJoin); err != nil {
		log.Printf("presence join publish failed room=%s: %v", roomID, err)
	}

	go p.consume(roomID, events)
	go p.heartbeatLoop(roomID, rp.stop)
	return nil
}

// Untrack stops presence for the room and announces the leave.
func (p *PresenceTracker) Untrack(ctx context.Context, roomID string) {
	p.mu.Lock()
	rp, ok := p.rooms[roomID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.rooms, roomID)
	cancelListen := rp.cancelListen
	close(rp.stop)
	p.mu.Unlock()

	if cancelListen != nil {
		cancelListen()
	}
	if err := p.announce(ctx, roomID, models.PresenceLeave); err != nil {
		log.Printf("presence leave publish failed room=%s: %v", roomID, err)
	}
	p.updateMetrics()
}

// PresentUsers returns the online user ids for the room, sorted for stable
// display.
func (p *PresenceTracker) PresentUsers(roomID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(rp.entries))
	for userID := range rp.entries {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Dispose untracks every room.
func (p *PresenceTracker) Dispose() {
	p.mu.Lock()
	roomIDs := make([]string, 0, len(p.rooms))
	for roomID := range p.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	p.mu.Unlock()
	for _, roomID := range roomIDs {
		p.Untrack(context.Background(), roomID)
	}
}

// drop discards a partially registered room. Only the Track error path uses
// it; no goroutines have started for the room at that point.
func (p *PresenceTracker) drop(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
}

func (p *PresenceTracker) consume(roomID string, events <-chan models.Event) {
	for event := range events {
		switch event.Type {
		case models.EventPresence:
			if event.Presence != nil {
				p.apply(roomID, *event.Presence)
			}
		case models.EventStatus, models.EventMessageInserted, models.EventMessageUpdated,
			models.EventMessageDeleted, models.EventSendAck, models.EventTyping:
			// Not presence concerns.
		}
	}
}

// apply handles one presence signal. Heartbeat timestamps use the local
// clock, so remote clock skew cannot wedge an entry past its timeout.
func (p *PresenceTracker) apply(roomID string, signal models.PresenceEvent) {
	p.mu.Lock()
	rp, ok := p.rooms[roomID]
	if !ok {
		p.mu.Unlock()
		return
	}
	switch signal.Action {
	case models.PresenceJoin, models.PresenceHeartbeat:
		rp.entries[signal.UserID] = p.now()
	case models.PresenceLeave:
		delete(rp.entries, signal.UserID)
	}
	p.mu.Unlock()
	p.updateMetrics()
}

func (p *PresenceTracker) heartbeatLoop(roomID string, stop <-chan struct{}) {
	heartbeat := time.NewTicker(p.cfg.HeartbeatInterval)
	sweep := time.NewTicker(p.cfg.SweepInterval)
	defer heartbeat.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeat.C:
			if err := p.announce(context.Background(), roomID, models.PresenceHeartbeat); err != nil {
				log.Printf("presence heartbeat publish failed room=%s: %v", roomID, err)
			}
			// Our own heartbeat also refreshes the local entry in case the
			// transport echo is delayed.
			p.apply(roomID, models.PresenceEvent{UserID: p.userID, Action: models.PresenceHeartbeat})
		case <-sweep.C:
			p.sweepRoom(roomID)
		}
	}
}

// sweepRoom evicts entries whose last heartbeat is older than the timeout.
func (p *PresenceTracker) sweepRoom(roomID string) {
	cutoff := p.now().Add(-p.cfg.Timeout)
	p.mu.Lock()
	rp, ok := p.rooms[roomID]
	if ok {
		for userID, lastSeen := range rp.entries {
			if lastSeen.Before(cutoff) {
				delete(rp.entries, userID)
			}
		}
	}
	p.mu.Unlock()
	p.updateMetrics()
}

func (p *PresenceTracker) announce(ctx context.Context, roomID string, action models.PresenceAction) error {
	return p.manager.Publish(ctx, roomID, models.Event{
		Type:   models.EventPresence,
		RoomID: roomID,
		Presence: &models.PresenceEvent{
			UserID: p.userID,
			Action: action,
			SentAt: p.now(),
		},
	})
}

func (p *PresenceTracker) updateMetrics() {
	p.mu.Lock()
	total := 0
	for _, rp := range p.rooms {
		total += len(rp.entries)
	}
	p.mu.Unlock()
	observability.SetPresenceEntries(total)
}
