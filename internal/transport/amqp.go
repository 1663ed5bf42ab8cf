package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// AMQPTransport carries room events over a RabbitMQ topic exchange. Each
// subscription gets an exclusive auto-delete queue bound to the room's
// routing key.
type AMQPTransport struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

// NewAMQPTransport dials RabbitMQ and declares the topic exchange.
func NewAMQPTransport(url, exchange string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Printf("amqp transport connected exchange=%s", exchange)
	return &AMQPTransport{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish marshals the event and publishes it under the channel routing key.
func (t *AMQPTransport) Publish(ctx context.Context, channel string, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	err = t.ch.PublishWithContext(ctx, t.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.IncPublishError()
		log.Printf("amqp publish failed channel=%s: %v", channel, err)
	}
	return err
}

// Subscribe declares an exclusive queue bound to the channel routing key and
// consumes it until the consumer channel closes or ctx is done.
func (t *AMQPTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, err
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, channel, t.exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	sub := &amqpSubscription{
		ch:     ch,
		events: make(chan models.Event, 64),
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		defer close(sub.events)
		for {
			select {
			case <-ctx.Done():
				sub.setErr(ctx.Err())
				return
			case amqpErr := <-closed:
				if amqpErr != nil {
					sub.setErr(amqpErr)
				}
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event models.Event
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					log.Printf("amqp transport: dropping undecodable event channel=%s: %v", channel, err)
					continue
				}
				select {
				case sub.events <- event:
				case <-ctx.Done():
					sub.setErr(ctx.Err())
					return
				}
			}
		}
	}()

	return sub, nil
}

func (t *AMQPTransport) Close() error {
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

type amqpSubscription struct {
	ch     *amqp.Channel
	events chan models.Event
	mu     sync.Mutex
	err    error
}

func (s *amqpSubscription) Events() <-chan models.Event { return s.events }

func (s *amqpSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *amqpSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *amqpSubscription) Close() error {
	return s.ch.Close()
}
