// Package notify holds the booking.Notifier implementations.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-engine/booking"
)

// DefaultQueue is the durable queue guest notifications are published to.
const DefaultQueue = "booking.notifications"

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each notification as a persistent JSON message on
// the default exchange, routed to Queue. A failed publish drops the channel;
// the next call redials, so the dispatcher's retries double as reconnects.
type AMQPPublisher struct {
	Queue string
	Log   logrus.FieldLogger

	mu   sync.Mutex
	ch   Channel
	conn *amqp.Connection
	dial func() (*amqp.Connection, Channel, error)
}

var _ booking.Notifier = (*AMQPPublisher)(nil)

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(url, queue string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	p := &AMQPPublisher{
		Queue: queue,
		Log:   log,
		dial: func() (*amqp.Connection, Channel, error) {
			conn, err := amqp.Dial(url)
			if err != nil {
				return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
			}
			ch, err := conn.Channel()
			if err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
			}
			return conn, ch, nil
		},
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewAMQPPublisher publishes on an already open channel. It does not
// reconnect.
func NewAMQPPublisher(ch Channel, queue string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if err := declare(ch, queue); err != nil {
		return nil, err
	}
	return &AMQPPublisher{Queue: queue, Log: log, ch: ch}, nil
}

func declare(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
	}
	return nil
}

// connect requires p.mu.
func (p *AMQPPublisher) connect() error {
	if p.dial == nil {
		return errors.New("rabbitmq channel closed")
	}
	conn, ch, err := p.dial()
	if err != nil {
		return err
	}
	if err := declare(ch, p.Queue); err != nil {
		ch.Close()
		if conn != nil {
			conn.Close()
		}
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Message encodes n as the AMQP publishing sent to the broker.
func Message(n booking.Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.OccurredAt.UTC(),
		Type:         string(n.Kind),
		MessageId:    fmt.Sprintf("%s-%d-%d", n.Kind, n.ReservationID, n.OccurredAt.UnixNano()),
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) Notify(ctx context.Context, n booking.Notification) error {
	msg, err := Message(n)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.ch.PublishWithContext(ctx, "", p.Queue, false, false, msg); err != nil {
		p.dropLocked()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	if p.Log != nil {
		p.Log.WithFields(logrus.Fields{"reservation_id": n.ReservationID, "kind": n.Kind}).Debug("notification published")
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked()
	p.dial = nil
	return nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
