package realtime

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/transport"
)

// BackoffConfig tunes reconnection behavior.
type BackoffConfig struct {
	Base time.Duration
	Cap  time.Duration
	// MaxRetryWindow bounds how long reconnects may keep failing before the
	// subscription enters the terminal error state.
	MaxRetryWindow time.Duration
}

// Manager owns at most one transport subscription per room. It reconnects
// dropped subscriptions with jittered exponential backoff and fans received
// events out to listeners, interleaving status-change events in-band.
type Manager struct {
	transport transport.Transport
	cfg       BackoffConfig

	mu       sync.Mutex
	rooms    map[string]*Subscription
	disposed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds a Manager with constructor-injected dependencies. Call
// Dispose to release every subscription.
func NewManager(tr transport.Transport, cfg BackoffConfig) *Manager {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 30 * time.Second
	}
	if cfg.MaxRetryWindow <= 0 {
		cfg.MaxRetryWindow = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: tr,
		cfg:       cfg,
		rooms:     make(map[string]*Subscription),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Open returns the room's subscription, creating it on first call. A second
// Open for the same room returns the existing handle, never a duplicate.
func (m *Manager) Open(roomID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, ErrManagerDisposed
	}
	if sub, ok := m.rooms[roomID]; ok {
		return sub, nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	sub := &Subscription{
		roomID:      roomID,
		manager:     m,
		listeners:   make(map[int]chan models.Event),
		status:      models.StatusConnecting,
		reconnectCh: make(chan struct{}, 1),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	m.rooms[roomID] = sub
	observability.SetSubscriptionStatus("", string(models.StatusConnecting))

	go sub.run(ctx, m.transport, m.cfg)
	return sub, nil
}

// Status reports the connection status for a room, or disconnected when the
// room has no subscription.
func (m *Manager) Status(roomID string) models.ConnectionStatus {
	m.mu.Lock()
	sub, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return models.StatusDisconnected
	}
	return sub.Status()
}

// Reconnect restarts a subscription that reached the terminal error state.
func (m *Manager) Reconnect(roomID string) error {
	m.mu.Lock()
	sub, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return ErrNotInErrorState
	}
	return sub.Reconnect()
}

// Close tears down a room's subscription and its listeners.
func (m *Manager) Close(roomID string) {
	m.mu.Lock()
	sub, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Publish sends an event to the room's transport channel.
func (m *Manager) Publish(ctx context.Context, roomID string, event models.Event) error {
	return m.transport.Publish(ctx, transport.RoomChannel(roomID), event)
}

// Dispose closes every subscription. The manager cannot be reused.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	subs := make([]*Subscription, 0, len(m.rooms))
	for _, sub := range m.rooms {
		subs = append(subs, sub)
	}
	m.rooms = make(map[string]*Subscription)
	m.mu.Unlock()

	m.cancel()
	for _, sub := range subs {
		sub.stop()
	}
}

// Subscription is the handle for one room's event stream.
type Subscription struct {
	roomID  string
	manager *Manager

	mu           sync.Mutex
	listeners    map[int]chan models.Event
	nextListener int
	status       models.ConnectionStatus
	stopped      bool

	reconnectCh chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// RoomID names the room this subscription serves.
func (s *Subscription) RoomID() string { return s.roomID }

// Status returns the current connection status.
func (s *Subscription) Status() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Listen registers a listener channel receiving the room's events, status
// changes included. The returned cancel func unregisters it.
func (s *Subscription) Listen() (<-chan models.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	ch := make(chan models.Event, 64)
	if s.stopped {
		close(ch)
		return ch, func() {}
	}
	s.listeners[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if listener, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(listener)
		}
	}
}

// Reconnect restarts the retry loop after a terminal error.
func (s *Subscription) Reconnect() error {
	s.mu.Lock()
	if s.status != models.StatusError {
		s.mu.Unlock()
		return ErrNotInErrorState
	}
	s.mu.Unlock()

	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *Subscription) run(ctx context.Context, tr transport.Transport, cfg BackoffConfig) {
	defer close(s.done)

	attempt := 0
	windowStart := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := tr.Subscribe(ctx, transport.RoomChannel(s.roomID))
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) && !connErr.Transient {
				log.Printf("subscription room=%s fatal: %v", s.roomID, err)
				if !s.waitForReconnect(ctx) {
					return
				}
				attempt = 0
				windowStart = time.Now()
				continue
			}
		} else {
			s.setStatus(models.StatusConnected)
			// The stream only ends when it is closed; cancellation must close
			// it or teardown would block behind an idle transport.
			watchDone := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					_ = stream.Close()
				case <-watchDone:
				}
			}()
			for event := range stream.Events() {
				// Any successful event proves the link and resets backoff.
				attempt = 0
				windowStart = time.Now()
				s.fanOut(event)
			}
			close(watchDone)
			_ = stream.Close()
			if ctx.Err() != nil {
				return
			}
			if streamErr := stream.Err(); streamErr != nil {
				log.Printf("subscription room=%s dropped: %v", s.roomID, streamErr)
			}
		}

		s.setStatus(models.StatusDisconnected)
		attempt++
		observability.IncReconnect()

		if time.Since(windowStart) > cfg.MaxRetryWindow {
			if !s.waitForReconnect(ctx) {
				return
			}
			attempt = 0
			windowStart = time.Now()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDelay(cfg, attempt)):
		}
		s.setStatus(models.StatusConnecting)
	}
}

// waitForReconnect parks the loop in the terminal error state until an
// explicit Reconnect or shutdown.
func (s *Subscription) waitForReconnect(ctx context.Context) bool {
	s.setStatus(models.StatusError)
	select {
	case <-ctx.Done():
		return false
	case <-s.reconnectCh:
		s.setStatus(models.StatusConnecting)
		return true
	}
}

func (s *Subscription) setStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	if s.stopped || s.status == status {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = status
	s.mu.Unlock()

	observability.SetSubscriptionStatus(string(prev), string(status))
	s.fanOut(models.Event{Type: models.EventStatus, RoomID: s.roomID, Status: status})
}

func (s *Subscription) fanOut(event models.Event) {
	s.mu.Lock()
	listeners := make([]chan models.Event, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		select {
		case listener <- event:
		default:
			// Slow listener: drop. Consumers are idempotent and reload on
			// reconnect, so a dropped duplicate cannot corrupt state.
		}
	}
}

func (s *Subscription) stop() {
	s.cancel()
	<-s.done

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	prev := s.status
	s.status = models.StatusDisconnected
	listeners := s.listeners
	s.listeners = make(map[int]chan models.Event)
	s.mu.Unlock()

	observability.SetSubscriptionStatus(string(prev), "")
	for _, listener := range listeners {
		close(listener)
	}
}

func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	delay := cfg.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.Cap {
			delay = cfg.Cap
			break
		}
	}
	// Full jitter keeps reconnect storms spread out.
	return time.Duration(rand.Int63n(int64(delay)) + 1)
}
