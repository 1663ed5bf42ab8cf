package transport

import (
	"context"
	"errors"
	"log"
	"sync"

	"chat-sync/internal/models"
)

// ErrTransportClosed is returned once a transport is closed.
var ErrTransportClosed = errors.New("transport closed")

// MemoryTransport is an in-process loopback transport. It backs tests and
// AMQP-less development; events reach local subscribers only.
type MemoryTransport struct {
	mu      sync.Mutex
	subs    map[string][]*memorySubscription
	closed  bool
	failure error
}

// NewMemoryTransport creates an empty loopback transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memorySubscription)}
}

// New builds the configured transport, falling back to the in-memory loopback
// when no AMQP URL is set.
func New(amqpURL, exchange string) Transport {
	if amqpURL == "" {
		log.Printf("realtime transport: no amqp url, using in-memory loopback")
		return NewMemoryTransport()
	}
	t, err := NewAMQPTransport(amqpURL, exchange)
	if err != nil {
		log.Printf("realtime transport: amqp unavailable, using in-memory loopback: %v", err)
		return NewMemoryTransport()
	}
	return t
}

// FailNextSubscribe makes the next Subscribe call return err. Test hook.
func (t *MemoryTransport) FailNextSubscribe(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failure = err
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.failure != nil {
		err := t.failure
		t.failure = nil
		return nil, err
	}

	sub := &memorySubscription{
		transport: t,
		channel:   channel,
		events:    make(chan models.Event, 64),
	}
	t.subs[channel] = append(t.subs[channel], sub)
	return sub, nil
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, event models.Event) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	subs := make([]*memorySubscription, len(t.subs[channel]))
	copy(subs, t.subs[channel])
	t.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
	return nil
}

// Drop severs every subscription on a channel with err, simulating a
// transport failure. Test hook.
func (t *MemoryTransport) Drop(channel string, err error) {
	t.mu.Lock()
	subs := t.subs[channel]
	delete(t.subs, channel)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	all := t.subs
	t.subs = make(map[string][]*memorySubscription)
	t.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.fail(ErrTransportClosed)
		}
	}
	return nil
}

func (t *MemoryTransport) remove(target *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[target.channel]
	for i, sub := range subs {
		if sub == target {
			t.subs[target.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[target.channel]) == 0 {
		delete(t.subs, target.channel)
	}
}

type memorySubscription struct {
	transport *MemoryTransport
	channel   string
	events    chan models.Event
	mu        sync.Mutex
	err       error
	done      bool
}

func (s *memorySubscription) deliver(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.events <- event:
	default:
		// Slow consumer: drop rather than block the publisher. The
		// at-least-once contract means consumers recover via reload.
	}
}

func (s *memorySubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.events)
}

func (s *memorySubscription) Events() <-chan models.Event { return s.events }

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.transport.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.events)
	}
	return nil
}
